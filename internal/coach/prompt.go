package coach

import (
	"log"
	"strings"
	"time"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/protocol"
)

// BuildSystemPrompt assembles the coaching prompt from the current vault
// contents, the focus list, and the protocols scheduled for now. Scan
// failures degrade to a thinner prompt; prompt building never fails.
func (c *Coach) BuildSystemPrompt(now time.Time) string {
	var b strings.Builder
	b.WriteString("You are a calm, practical productivity coach. The user keeps their ")
	b.WriteString("projects and actions as checkbox lines in markdown documents. ")
	b.WriteString("Help them review, prioritize, and decide. Use the provided tools: ")
	b.WriteString("display tools freely, action tools only when the user has clearly ")
	b.WriteString("asked for the change (the user still approves each one).\n")

	b.WriteString("\n## Open actions\n")
	refs, err := action.ScanVault(c.vault)
	if err != nil {
		log.Printf("coach: vault scan for prompt: %v", err)
		b.WriteString("(vault unavailable)\n")
	} else {
		writeRefsByDocument(&b, action.Open(refs))
		waiting := action.Waiting(refs)
		if len(waiting) > 0 {
			b.WriteString("\n## Waiting for\n")
			writeRefsByDocument(&b, waiting)
		}
	}

	b.WriteString("\n## Current focus\n")
	items := c.focus.Items()
	if len(items) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, item := range items {
		b.WriteString("- " + item.Ref.LogicalText)
		if item.Pinned {
			b.WriteString(" (pinned)")
		}
		b.WriteString("\n")
	}

	if protocols, err := protocol.Load(c.vault, c.cfg.ProtocolsDir); err == nil {
		if due := protocol.Match(protocols, now); len(due) > 0 {
			b.WriteString("\n## Scheduled reviews due now\n")
			for _, p := range due {
				b.WriteString("- " + p.Name + "\n")
			}
			b.WriteString("Offer to start one, but follow the user's lead.\n")
		}
	} else {
		log.Printf("coach: protocol load for prompt: %v", err)
	}

	return b.String()
}

// writeRefsByDocument lists refs grouped under their document, preserving
// scan order.
func writeRefsByDocument(b *strings.Builder, refs []action.Ref) {
	if len(refs) == 0 {
		b.WriteString("(none)\n")
		return
	}
	current := ""
	for _, ref := range refs {
		if ref.Document != current {
			current = ref.Document
			b.WriteString("### " + current)
			if ref.Sphere != "" {
				b.WriteString(" [" + ref.Sphere + "]")
			}
			b.WriteString("\n")
		}
		b.WriteString("- " + ref.Text + "\n")
	}
}
