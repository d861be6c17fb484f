package action

import (
	"regexp"
	"strings"
)

// headingPattern matches a level-1 markdown heading at the start of a line.
var headingPattern = regexp.MustCompile(`(?m)^#\s+(.+?)[ \t]*$`)

// SplitFrontMatter separates a leading YAML front-matter block (between
// `---` fences on their own lines) from the document body. Documents without
// front matter return an empty yamlText and the full content as body.
func SplitFrontMatter(content string) (yamlText, body string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", content
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", content
	}
	yamlText = rest[:end]
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return yamlText, body
}

// FirstHeading returns the text of the first level-1 heading in the body,
// or "" if none exists.
func FirstHeading(body string) string {
	m := headingPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
