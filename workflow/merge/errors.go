package merge

import (
	"errors"
	"fmt"

	"github.com/c360studio/specmerge/workflow"
	"github.com/c360studio/specmerge/workflow/validation"
)

// Sentinel errors for merge failures. Wrapped errors carry the offending
// document in their message; use errors.Is to classify them.
var (
	ErrMissingChangeSpecs  = workflow.ErrMissingChangeSpecs
	ErrInvalidChangeSpec   = errors.New("Invalid change-set spec")
	ErrRemovedNotFound     = errors.New("REMOVED block not found in canonical spec")
	ErrInvalidModified     = errors.New("Invalid MODIFIED topic; expected **Before:** then **After:**")
	ErrEmptyModified       = errors.New("Empty Before/After block in MODIFIED topic")
	ErrBeforeNotFound      = errors.New("Before block not found in canonical spec")
	ErrAddedTopicNotFound  = errors.New("ADDED topic not found in canonical spec")
	ErrMissingRequirements = errors.New("Delta spec missing '## Requirements'")
	ErrNoBuckets           = errors.New("Delta spec has no ADDED/MODIFIED/REMOVED buckets under Requirements")
	ErrMissingCanonical    = errors.New("Delta targets missing canonical spec")
	ErrOutsideChangeSpecs  = workflow.ErrOutsideChangeSpecs
)

// PatchError reports a failed patch operation against one delta document.
type PatchError struct {
	// Label identifies the delta document, usually its repo-relative path.
	Label string

	// Topic is the topic being applied, if known.
	Topic string

	err error
}

func (e *PatchError) Error() string {
	switch {
	case errors.Is(e.err, ErrAddedTopicNotFound):
		return fmt.Sprintf("%s (### %s) for: %s", e.err, e.Topic, e.Label)
	case errors.Is(e.err, ErrInvalidModified):
		return fmt.Sprintf("%s in: %s", e.err, e.Label)
	case errors.Is(e.err, ErrEmptyModified), errors.Is(e.err, ErrMissingRequirements), errors.Is(e.err, ErrNoBuckets):
		return fmt.Sprintf("%s: %s", e.err, e.Label)
	default:
		return fmt.Sprintf("%s for: %s", e.err, e.Label)
	}
}

func (e *PatchError) Unwrap() error {
	return e.err
}

func patchError(err error, label, topic string) error {
	return &PatchError{Label: label, Topic: topic, err: err}
}

// InvalidSpecError reports a change-spec document that failed validation.
type InvalidSpecError struct {
	Path   string
	Issues []validation.Issue
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("%s: %s\n%s", ErrInvalidChangeSpec, e.Path, validation.FormatIssueList(e.Issues))
}

func (e *InvalidSpecError) Unwrap() error {
	return ErrInvalidChangeSpec
}
