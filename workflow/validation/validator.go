// Package validation checks change-spec documents against the structural
// grammar of the `new` and `delta` kinds. Findings are collected as coded
// issues; invalid input never produces an error.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/specmerge/source/parser"
)

// Issue codes.
const (
	CodeFrontmatterMissing    = "fm.missing"
	CodeKindMissing           = "fm.kind_missing"
	CodeNewMissingTitle       = "new.missing_title"
	CodeNewMissingOverview    = "new.missing_overview"
	CodeNewMissingReqs        = "new.missing_requirements"
	CodeNewDeltaBuckets       = "new.delta_buckets"
	CodeDeltaMissingTitle     = "delta.missing_title"
	CodeDeltaMissingReqs      = "delta.missing_requirements"
	CodeDeltaMissingBuckets   = "delta.missing_buckets"
	CodeDeltaModifiedMalforms = "delta.modified_malformed"
)

// Pre-compiled patterns. Heading checks require at least one whitespace
// character and one more character after the prefix.
var (
	titlePattern        = headingPrefixPattern("#")
	overviewPattern     = headingPrefixPattern("## Overview")
	requirementsPattern = headingPrefixPattern("## Requirements")

	bucketLinePattern   = regexp.MustCompile(`(?m)^(###\s+(ADDED|MODIFIED|REMOVED)\s*)$`)
	modifiedLinePattern = regexp.MustCompile(`(?m)^###\s+MODIFIED\s*$`)
)

func headingPrefixPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(prefix) + `\s+.+$`)
}

// Issue is a single structural finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String renders the issue as a list line.
func (i Issue) String() string {
	return fmt.Sprintf("- [%s] %s", i.Code, i.Message)
}

// Result is the outcome of validating one document.
type Result struct {
	OK     bool        `json:"ok"`
	Kind   parser.Kind `json:"kind"`
	Issues []Issue     `json:"issues"`
}

// HasIssue reports whether the result carries the given code.
func (r *Result) HasIssue(code string) bool {
	for _, issue := range r.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the issue codes in report order.
func (r *Result) Codes() []string {
	codes := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

// ValidateChangeSpec validates raw change-spec markdown. All applicable
// checks run, so one call can report several issues.
func ValidateChangeSpec(markdown string) *Result {
	doc := parser.SplitChangeSpec(markdown)

	result := &Result{Kind: doc.Kind, Issues: []Issue{}}

	if !doc.HasFrontmatter {
		result.add(CodeFrontmatterMissing, "Missing YAML frontmatter (--- ... ---)")
	}
	if doc.Kind == parser.KindUnknown {
		result.add(CodeKindMissing, "Missing required 'kind: new|delta' in frontmatter")
	}

	switch doc.Kind {
	case parser.KindNew:
		validateNew(doc.Body, result)
	case parser.KindDelta:
		validateDelta(doc.Body, result)
	}

	result.OK = len(result.Issues) == 0
	return result
}

func (r *Result) add(code, message string) {
	r.Issues = append(r.Issues, Issue{Code: code, Message: message})
}

func validateNew(body string, result *Result) {
	if !titlePattern.MatchString(body) {
		result.add(CodeNewMissingTitle, "Missing top-level '# <Title>' heading")
	}
	if !overviewPattern.MatchString(body) {
		result.add(CodeNewMissingOverview, "Missing '## Overview' section")
	}
	if !requirementsPattern.MatchString(body) {
		result.add(CodeNewMissingReqs, "Missing '## Requirements' section")
	}
	if bucketLinePattern.MatchString(body) {
		result.add(CodeNewDeltaBuckets, "`kind: new` spec must not include delta buckets (### ADDED/MODIFIED/REMOVED)")
	}
}

func validateDelta(body string, result *Result) {
	if !titlePattern.MatchString(body) {
		result.add(CodeDeltaMissingTitle, "Missing top-level '# <Title>' heading")
	}
	if !requirementsPattern.MatchString(body) {
		result.add(CodeDeltaMissingReqs, "Missing '## Requirements' section")
	}

	section, ok := parser.RequirementsSection(body)
	if !ok {
		return
	}

	if !bucketLinePattern.MatchString(section) {
		result.add(CodeDeltaMissingBuckets, "Delta spec must include at least one bucket under '## Requirements'")
	}

	if !modifiedLinePattern.MatchString(section) {
		return
	}

	buckets, _ := parser.ExtractBuckets(body)
	for _, topic := range parser.Topics(buckets.Modified, parser.BucketModified) {
		if _, _, ok := parser.SplitBeforeAfter(topic.Raw); !ok {
			result.add(CodeDeltaModifiedMalforms, "Each MODIFIED topic must contain '**Before:**' followed by '**After:**'")
			break
		}
	}
}

// FormatIssueList renders issues one per line.
func FormatIssueList(issues []Issue) string {
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		lines = append(lines, issue.String())
	}
	return strings.Join(lines, "\n")
}

// FormatIssues renders a failed validation for display on standard error.
func FormatIssues(rel string, issues []Issue) string {
	return fmt.Sprintf("Spec validation failed: %s\n%s", rel, FormatIssueList(issues))
}

// ChangeSpecsDir is the directory inside a change that holds its documents.
const ChangeSpecsDir = "specs"

// IsChangeSpecPath reports whether a slash-separated repo-relative path names
// a change-spec document, i.e. matches `<changesDir>/<name>/specs/**/*.md`.
// changesDir is compared literally, so glob characters in it match only
// themselves.
func IsChangeSpecPath(changesDir, rel string) bool {
	prefix := path.Clean(changesDir) + "/"
	if !strings.HasPrefix(rel, prefix) {
		return false
	}
	ok, err := doublestar.Match(path.Join("*", ChangeSpecsDir, "**", "*.md"), strings.TrimPrefix(rel, prefix))
	return err == nil && ok
}
