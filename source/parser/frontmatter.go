// Package parser splits change-spec documents into frontmatter and body and
// slices delta bodies into their ADDED / MODIFIED / REMOVED buckets.
//
// Everything here works on raw text. Headings are located by exact string
// search so that downstream patching addresses the same bytes the author wrote.
package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind is the declared kind of a change-spec document.
type Kind string

// Change-spec kinds. KindUnknown means frontmatter was absent or did not carry
// a recognised kind line.
const (
	KindUnknown Kind = ""
	KindNew     Kind = "new"
	KindDelta   Kind = "delta"
)

const (
	frontmatterOpen  = "---\n"
	frontmatterClose = "\n---\n"
)

// kindLinePattern matches the single recognised frontmatter key.
var kindLinePattern = regexp.MustCompile(`(?m)^kind:\s*(new|delta)\s*$`)

// ChangeSpec is a change-spec document split into its parts.
type ChangeSpec struct {
	// Frontmatter is the text between the fences including its trailing
	// newline. Only meaningful when HasFrontmatter is true.
	Frontmatter string

	// HasFrontmatter reports whether a complete fenced block was found.
	HasFrontmatter bool

	// Body is everything after the closing fence, or the whole document
	// when there is no frontmatter.
	Body string

	// Kind is parsed from the frontmatter kind line.
	Kind Kind
}

// SplitChangeSpec isolates a leading `---\n...\n---\n` block from the body.
// An opening fence without a closing one is treated as no frontmatter; the
// validator reports that as fm.missing.
func SplitChangeSpec(markdown string) ChangeSpec {
	if !strings.HasPrefix(markdown, frontmatterOpen) {
		return ChangeSpec{Body: markdown}
	}

	rest := markdown[len(frontmatterOpen):]
	end := strings.Index(rest, frontmatterClose)
	if end == -1 {
		return ChangeSpec{Body: markdown}
	}

	raw := rest[:end+1]
	return ChangeSpec{
		Frontmatter:    raw,
		HasFrontmatter: true,
		Body:           rest[end+len(frontmatterClose):],
		Kind:           ParseKind(raw),
	}
}

// ParseKind extracts the kind from raw frontmatter. It is a single-line match,
// not a YAML parse.
func ParseKind(frontmatter string) Kind {
	m := kindLinePattern.FindStringSubmatch(frontmatter)
	if m == nil {
		return KindUnknown
	}
	return Kind(m[1])
}

// NormalizeNewlines converts CRLF line endings to LF.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// TrimLeadingBlankLines removes leading whitespace from a `new` body so the
// canonical file starts at its title.
func TrimLeadingBlankLines(body string) string {
	return strings.TrimLeftFunc(body, unicode.IsSpace)
}
