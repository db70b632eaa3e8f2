// Package merge folds change-spec documents into the canonical spec tree.
//
// Delta documents are applied as REMOVED, MODIFIED and ADDED operations
// against the raw canonical text. Operations are addressed by topic heading
// text and located by exact substring match; nothing is ever approximated.
package merge

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/c360studio/specmerge/source/parser"
)

// Operation names, as used in OpCounts and metrics labels.
const (
	OpRemoved  = "removed"
	OpModified = "modified"
	OpAdded    = "added"
	OpCleaned  = "cleaned"
)

var bulletPattern = regexp.MustCompile(`(?m)^\s*-\s+`)

// OpCounts tallies the operations a patch applied.
type OpCounts struct {
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Added    int `json:"added"`
	Cleaned  int `json:"cleaned"`
}

// Add accumulates o into c.
func (c *OpCounts) Add(o OpCounts) {
	c.Removed += o.Removed
	c.Modified += o.Modified
	c.Added += o.Added
	c.Cleaned += o.Cleaned
}

// PatchResult is the outcome of applying one delta to one canonical text.
type PatchResult struct {
	Text string
	Ops  OpCounts
}

// ApplyDelta applies deltaBody to canonical and returns the patched text.
// label identifies the delta document in errors.
func ApplyDelta(canonical, deltaBody, label string) (string, error) {
	result, err := Patch(canonical, deltaBody, label)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Patch applies deltaBody to canonical in fixed order: REMOVED, MODIFIED,
// ADDED, then removal of topic sections emptied by REMOVED. On error the
// input text is left as it was; no partial result is returned.
func Patch(canonical, deltaBody, label string) (*PatchResult, error) {
	buckets, ok := parser.ExtractBuckets(deltaBody)
	if !ok {
		return nil, patchError(ErrMissingRequirements, label, "")
	}
	if buckets.Empty() {
		return nil, patchError(ErrNoBuckets, label, "")
	}

	p := &patcher{text: canonical, label: label}

	touched, err := p.remove(buckets.Removed)
	if err != nil {
		return nil, err
	}
	if err := p.modify(buckets.Modified); err != nil {
		return nil, err
	}
	if err := p.add(buckets.Added); err != nil {
		return nil, err
	}

	var cleaned int
	p.text, cleaned = CleanupEmptyTopics(p.text, touched)
	p.ops.Cleaned = cleaned

	return &PatchResult{Text: p.text, Ops: p.ops}, nil
}

type patcher struct {
	text  string
	label string
	ops   OpCounts
}

// remove deletes each REMOVED block and returns the touched topic names in
// first-seen order.
func (p *patcher) remove(bucket string) ([]string, error) {
	var touched []string
	seen := make(map[string]bool)

	for _, topic := range parser.Topics(bucket, parser.BucketRemoved) {
		if topic.Name != "" && !seen[topic.Name] {
			seen[topic.Name] = true
			touched = append(touched, topic.Name)
		}

		block := parser.NormalizeNewlines(parser.RemovableBlock(topic.Content))
		if block == "" {
			continue
		}

		pos := strings.Index(p.text, block)
		if pos == -1 {
			return nil, patchError(ErrRemovedNotFound, p.label, topic.Name)
		}
		p.text = p.text[:pos] + p.text[pos+len(block):]
		p.ops.Removed++
	}

	return touched, nil
}

// modify replaces the first occurrence of each Before block with its After
// block.
func (p *patcher) modify(bucket string) error {
	for _, topic := range parser.Topics(bucket, parser.BucketModified) {
		before, after, ok := parser.SplitBeforeAfter(topic.Raw)
		if !ok {
			return patchError(ErrInvalidModified, p.label, topic.Name)
		}
		if before == "" || after == "" {
			return patchError(ErrEmptyModified, p.label, topic.Name)
		}

		before = parser.NormalizeNewlines(before)
		after = parser.NormalizeNewlines(after)

		pos := strings.Index(p.text, before)
		if pos == -1 {
			return patchError(ErrBeforeNotFound, p.label, topic.Name)
		}
		p.text = p.text[:pos] + after + p.text[pos+len(before):]
		p.ops.Modified++
	}
	return nil
}

// add appends each ADDED block at the end of its existing topic section.
func (p *patcher) add(bucket string) error {
	for _, topic := range parser.Topics(bucket, parser.BucketAdded) {
		if topic.Name == "" || topic.Content == "" {
			continue
		}

		header := topicHeader(topic.Name)
		idx := strings.Index(p.text, header)
		if idx == -1 {
			return patchError(ErrAddedTopicNotFound, p.label, topic.Name)
		}

		insertAt := sectionEnd(p.text, idx+len(header))
		insertion := strings.TrimRightFunc(parser.NormalizeNewlines(topic.Content), unicode.IsSpace)
		p.text = p.text[:insertAt] + "\n" + insertion + "\n" + p.text[insertAt:]
		p.ops.Added++
	}
	return nil
}

// CleanupEmptyTopics deletes each named `### <Topic>` section that holds no
// bullet line, collapsing three or more newlines on either side of the seam
// to two. Topics that are not found are ignored. It returns the new text and
// the number of sections deleted.
func CleanupEmptyTopics(text string, topics []string) (string, int) {
	var deleted int
	for _, topic := range topics {
		header := topicHeader(topic)
		idx := strings.Index(text, header)
		if idx == -1 {
			continue
		}

		contentStart := idx + len(header)
		end := sectionEnd(text, contentStart)
		if bulletPattern.MatchString(text[contentStart:end]) {
			continue
		}

		text = collapseTrailingNewlines(text[:idx]) + collapseLeadingNewlines(text[end:])
		deleted++
	}
	return text, deleted
}

func topicHeader(topic string) string {
	return "### " + topic
}

// sectionEnd returns the offset just past the newline that precedes the next
// `### ` heading at or after from, or the end of text.
func sectionEnd(text string, from int) int {
	next := strings.Index(text[from:], "\n### ")
	if next == -1 {
		return len(text)
	}
	return from + next + 1
}

func collapseTrailingNewlines(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	if len(s)-len(trimmed) >= 3 {
		return trimmed + "\n\n"
	}
	return s
}

func collapseLeadingNewlines(s string) string {
	trimmed := strings.TrimLeft(s, "\n")
	if len(s)-len(trimmed) >= 3 {
		return "\n\n" + trimmed
	}
	return s
}
