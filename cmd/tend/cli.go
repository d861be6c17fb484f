package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/coach"
	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/protocol"
	"github.com/kestrelhq/tend/internal/vault"
	"github.com/kestrelhq/tend/internal/web"
)

// cliEnv carries the wired dependencies into CLI commands.
type cliEnv struct {
	db    *sql.DB
	cfg   *config.Config
	vault *vault.Vault
	store *focus.Store
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *cliEnv) *cli.App {
	app := &cli.App{
		Name:    "tend",
		Usage:   "GTD coaching over a folder of markdown",
		Version: Version,
		Commands: []*cli.Command{
			focusCmd(env),
			scanCmd(env),
			reconcileCmd(env),
			protocolsCmd(env),
			chatCmd(env),
			approvalsCmd(env),
			conversationsCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// focusCmd groups the focus list operations.
func focusCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "focus",
		Usage: "Manage the focus list",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an action from a document to focus",
				ArgsUsage: "<document>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Action text to match"},
					&cli.IntFlag{Name: "line", Aliases: []string{"l"}, Usage: "1-based line number"},
					&cli.BoolFlag{Name: "general", Usage: "Mark as a general (non-project) entry"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("document argument is required"))
					}
					ref, err := findAction(env.vault, c.Args().First(), c.String("text"), c.Int("line"))
					if err != nil {
						return outputError(err)
					}
					item, err := env.store.Add(ref, c.Bool("general"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(item)
				},
			},
			{
				Name:  "list",
				Usage: "Show the focus list in display order",
				Action: func(c *cli.Context) error {
					return outputJSON(env.store.Items())
				},
			},
			{
				Name:      "done",
				Usage:     "Complete a focus item and stamp its document line",
				ArgsUsage: "<id>",
				Action:    itemAction(env, func(s *focus.Store, id string) error { return s.MarkComplete(id) }),
			},
			{
				Name:      "pin",
				Usage:     "Pin a focus item to the top run",
				ArgsUsage: "<id>",
				Action:    itemAction(env, func(s *focus.Store, id string) error { return s.Pin(id) }),
			},
			{
				Name:      "unpin",
				Usage:     "Unpin a focus item",
				ArgsUsage: "<id>",
				Action:    itemAction(env, func(s *focus.Store, id string) error { return s.Unpin(id) }),
			},
			{
				Name:      "waiting",
				Usage:     "Convert a focus item to waiting-for",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "Convert back to todo"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("id argument is required"))
					}
					id := c.Args().First()
					var err error
					if c.Bool("undo") {
						err = env.store.ConvertToTodo(id)
					} else {
						err = env.store.ConvertToWaiting(id)
					}
					if err != nil {
						return outputError(err)
					}
					return outputItem(env, id)
				},
			},
			{
				Name:      "reorder",
				Usage:     "Move a focus item to a new position",
				ArgsUsage: "<id> <index>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("id and index arguments are required"))
					}
					var index int
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &index); err != nil {
						return outputError(errors.NewInvalidRequest("index must be an integer"))
					}
					if err := env.store.Reorder(c.Args().First(), index); err != nil {
						return outputError(err)
					}
					return outputJSON(env.store.Items())
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a focus item (the document is untouched)",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("id argument is required"))
					}
					if err := env.store.Remove(c.Args().First()); err != nil {
						return outputError(err)
					}
					fmt.Println("removed")
					return nil
				},
			},
		},
	}
}

// itemAction wraps a single-id store mutation that prints the updated item.
func itemAction(env *cliEnv, fn func(*focus.Store, string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return outputError(errors.NewInvalidRequest("id argument is required"))
		}
		id := c.Args().First()
		if err := fn(env.store, id); err != nil {
			return outputError(err)
		}
		return outputItem(env, id)
	}
}

// scanCmd extracts checkbox actions from the vault.
func scanCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Extract checkbox actions from the vault or one document",
		ArgsUsage: "[document]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter: todo|waiting|done"},
		},
		Action: func(c *cli.Context) error {
			var refs []action.Ref
			var err error
			if c.NArg() > 0 {
				name := c.Args().First()
				content, err := env.vault.Read(name)
				if err != nil {
					return outputError(err)
				}
				refs = action.ScanDocument(name, content)
			} else {
				refs, err = action.ScanVault(env.vault)
				if err != nil {
					return outputError(err)
				}
			}
			switch strings.ToLower(c.String("status")) {
			case "":
			case "todo":
				refs = action.Open(refs)
			case "waiting":
				refs = action.Waiting(refs)
			case "done":
				done := refs[:0:0]
				for _, ref := range refs {
					if ref.Status == action.StatusDone {
						done = append(done, ref)
					}
				}
				refs = done
			default:
				return outputError(errors.NewInvalidRequest("status must be todo, waiting, or done"))
			}
			return outputJSON(refs)
		},
	}
}

// reconcileCmd re-validates the focus list against the vault.
func reconcileCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Repair, drop, and expire focus items after document edits",
		Action: func(c *cli.Context) error {
			result, err := env.store.Reconcile()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// protocolsCmd lists and matches review protocols.
func protocolsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "protocols",
		Usage: "Inspect review protocols",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all protocols with triggers and spheres",
				Action: func(c *cli.Context) error {
					protocols, err := protocol.Load(env.vault, env.cfg.ProtocolsDir)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(protocols)
				},
			},
			{
				Name:  "match",
				Usage: "Show the protocols scheduled for a point in time",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "RFC 3339 timestamp (defaults to now)"},
				},
				Action: func(c *cli.Context) error {
					at := time.Now()
					if s := c.String("at"); s != "" {
						var err error
						at, err = time.Parse(time.RFC3339, s)
						if err != nil {
							return outputError(errors.NewInvalidRequest("at must be RFC 3339"))
						}
					}
					protocols, err := protocol.Load(env.vault, env.cfg.ProtocolsDir)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(protocol.Match(protocols, at))
				},
			},
		},
	}
}

// chatCmd runs one coaching turn against the active conversation.
func chatCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send one message to the coach",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "new", Usage: "Start a fresh conversation first"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("message argument is required"))
			}
			co, err := env.newCoach()
			if err != nil {
				return outputError(err)
			}
			if _, ok := co.ActiveConversation(); !ok || c.Bool("new") {
				if _, err := co.CreateConversation(co.BuildSystemPrompt(time.Now())); err != nil {
					return outputError(err)
				}
			}
			conv, err := co.SendMessage(c.Context, strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return outputError(err)
			}
			printTurn(conv)
			return nil
		},
	}
}

// approvalsCmd lists and resolves pending tool approvals.
func approvalsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "approvals",
		Usage: "Review pending tool calls from the coach",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show pending approvals in the active conversation",
				Action: func(c *cli.Context) error {
					co, err := env.newCoach()
					if err != nil {
						return outputError(err)
					}
					conv, ok := co.ActiveConversation()
					if !ok {
						return outputError(errors.NewNotFound("active conversation"))
					}
					return outputJSON(conv.PendingApprovals())
				},
			},
			{
				Name:      "approve",
				Usage:     "Approve and execute one pending tool call",
				ArgsUsage: "<block-id>",
				Action:    approvalAction(env, (*coach.Coach).ApproveTool),
			},
			{
				Name:      "reject",
				Usage:     "Reject one pending tool call",
				ArgsUsage: "<block-id>",
				Action:    approvalAction(env, (*coach.Coach).RejectTool),
			},
		},
	}
}

// approvalAction wraps ApproveTool / RejectTool against the active conversation.
func approvalAction(env *cliEnv, resolve func(*coach.Coach, string, string) (coach.Conversation, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return outputError(errors.NewInvalidRequest("block-id argument is required"))
		}
		co, err := env.newCoach()
		if err != nil {
			return outputError(err)
		}
		conv, ok := co.ActiveConversation()
		if !ok {
			return outputError(errors.NewNotFound("active conversation"))
		}
		after, err := resolve(co, conv.ID, c.Args().First())
		if err != nil {
			return outputError(err)
		}
		return outputJSON(after.Approvals)
	}
}

// conversationsCmd lists retained conversations and switches the active one.
func conversationsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "conversations",
		Usage: "List conversations or switch the active one",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "activate", Usage: "Conversation id to make active"},
		},
		Action: func(c *cli.Context) error {
			co, err := env.newCoach()
			if err != nil {
				return outputError(err)
			}
			if id := c.String("activate"); id != "" {
				if err := co.SetActive(id); err != nil {
					return outputError(err)
				}
			}
			type row struct {
				ID        string    `json:"id"`
				Title     string    `json:"title"`
				CreatedAt time.Time `json:"created_at"`
				Messages  int       `json:"messages"`
				Pending   int       `json:"pending_approvals"`
			}
			var rows []row
			for _, conv := range co.Conversations() {
				rows = append(rows, row{
					ID:        conv.ID,
					Title:     conv.Title,
					CreatedAt: conv.CreatedAt,
					Messages:  len(conv.Messages),
					Pending:   len(conv.PendingApprovals()),
				})
			}
			return outputJSON(rows)
		},
	}
}

// serveCmd starts the read-only web UI.
func serveCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read-only web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:7830", Usage: "Listen address"},
		},
		Action: func(c *cli.Context) error {
			co, err := env.newCoach()
			if err != nil {
				return outputError(err)
			}
			srv := web.NewServer(env.store, env.vault, env.cfg, co)
			fmt.Fprintf(os.Stderr, "tend: listening on http://%s\n", c.String("addr"))
			return srv.ListenAndServe(c.String("addr"))
		},
	}
}

// newCoach builds a Coach on the shared dependencies.
func (e *cliEnv) newCoach() (*coach.Coach, error) {
	return coach.New(e.db, e.vault, e.store, e.cfg, e.modelClient())
}

// printTurn prints the messages the user has not seen yet.
func printTurn(conv coach.Conversation) {
	for i, m := range conv.Messages {
		// Skip everything before this turn's user message.
		if i < conv.LastSeen-2 {
			continue
		}
		switch m.Role {
		case "assistant":
			fmt.Println(m.Content)
		case "system":
			// orchestration plumbing, not part of the dialogue
		}
	}
	for _, block := range conv.PendingApprovals() {
		fmt.Printf("pending approval %s: %s %s\n", block.ID, block.Call.Name, block.Call.Input)
	}
}

// findAction locates one checkbox line by text, line number, or both.
func findAction(v *vault.Vault, document, text string, line int) (action.Ref, error) {
	if text == "" && line == 0 {
		return action.Ref{}, errors.NewInvalidRequest("one of --text or --line is required")
	}
	content, err := v.Read(document)
	if err != nil {
		return action.Ref{}, err
	}
	for _, ref := range action.ScanDocument(document, content) {
		if line != 0 && ref.Line != line {
			continue
		}
		if text != "" && !strings.EqualFold(ref.Text, text) {
			continue
		}
		return ref, nil
	}
	return action.Ref{}, errors.NewNotFound("action in " + document)
}

// outputItem prints one focus item by id.
func outputItem(env *cliEnv, id string) error {
	item, err := env.store.Get(id)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(item)
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if tendErr, ok := err.(*errors.TendError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", tendErr.Code, tendErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
