package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specmerge/source/parser"
)

const validDelta = `---
kind: delta
---
# Auth

## Requirements

### REMOVED

#### Login
- Legacy SSO

**Reason:** replaced by OIDC

### MODIFIED

#### Login
**Before:**
- Supports email and password
**After:**
- Supports email, password, and OTP

### ADDED

#### Session
- Sessions expire after 30 minutes
`

func TestValidateChangeSpec(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOK    bool
		wantKind  parser.Kind
		wantCodes []string
	}{
		{
			name:      "valid new",
			input:     "---\nkind: new\n---\n# Auth\n\n## Overview\n\nLogin flows.\n\n## Requirements\n\n### Login\n- Supports email\n",
			wantOK:    true,
			wantKind:  parser.KindNew,
			wantCodes: []string{},
		},
		{
			name:      "valid delta",
			input:     validDelta,
			wantOK:    true,
			wantKind:  parser.KindDelta,
			wantCodes: []string{},
		},
		{
			name:      "no frontmatter",
			input:     "# Auth\n\n## Overview\n\nText\n",
			wantKind:  parser.KindUnknown,
			wantCodes: []string{CodeFrontmatterMissing, CodeKindMissing},
		},
		{
			name:      "unrecognised kind",
			input:     "---\nkind: patch\n---\n# Auth\n",
			wantKind:  parser.KindUnknown,
			wantCodes: []string{CodeKindMissing},
		},
		{
			name:      "new missing every section",
			input:     "---\nkind: new\n---\nplain text only\n",
			wantKind:  parser.KindNew,
			wantCodes: []string{CodeNewMissingTitle, CodeNewMissingOverview, CodeNewMissingReqs},
		},
		{
			name:      "new carrying delta buckets",
			input:     "---\nkind: new\n---\n# Auth\n\n## Overview\n\nText\n\n## Requirements\n\n### ADDED\n\n#### Login\n- a\n",
			wantKind:  parser.KindNew,
			wantCodes: []string{CodeNewDeltaBuckets},
		},
		{
			name:      "delta missing requirements",
			input:     "---\nkind: delta\n---\n# Auth\n\n## Overview\n\nText\n",
			wantKind:  parser.KindDelta,
			wantCodes: []string{CodeDeltaMissingReqs},
		},
		{
			name:      "delta missing buckets",
			input:     "---\nkind: delta\n---\n# Auth\n\n## Requirements\n\n### Login\n- a\n",
			wantKind:  parser.KindDelta,
			wantCodes: []string{CodeDeltaMissingBuckets},
		},
		{
			name:      "delta missing title and buckets",
			input:     "---\nkind: delta\n---\n## Requirements\n\n### Login\n- a\n",
			wantKind:  parser.KindDelta,
			wantCodes: []string{CodeDeltaMissingTitle, CodeDeltaMissingBuckets},
		},
		{
			name:      "buckets outside requirements do not count",
			input:     "---\nkind: delta\n---\n# Auth\n\n## Requirements\n\nNothing yet.\n\n## Notes\n\n### ADDED\n\n#### Login\n- a\n",
			wantKind:  parser.KindDelta,
			wantCodes: []string{CodeDeltaMissingBuckets},
		},
		{
			name:      "modified after before before",
			input:     "---\nkind: delta\n---\n# Auth\n\n## Requirements\n\n### MODIFIED\n\n#### Login\n**After:**\n- new\n**Before:**\n- old\n",
			wantKind:  parser.KindDelta,
			wantCodes: []string{CodeDeltaModifiedMalforms},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateChangeSpec(tt.input)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantOK, result.OK)
			assert.Equal(t, tt.wantKind, result.Kind)
			assert.Equal(t, tt.wantCodes, result.Codes())
			assert.Equal(t, len(result.Issues) == 0, result.OK)
		})
	}
}

func TestValidateChangeSpec_MalformedReportedOnce(t *testing.T) {
	input := "---\nkind: delta\n---\n# Auth\n\n## Requirements\n\n### MODIFIED\n\n" +
		"#### Login\n**After:**\n- x\n\n" +
		"#### Logout\n- no markers at all\n\n" +
		"#### Session\n**Before:**\n- only before\n"

	result := ValidateChangeSpec(input)
	assert.False(t, result.OK)
	assert.Equal(t, []string{CodeDeltaModifiedMalforms}, result.Codes())
}

func TestValidateChangeSpec_IssuesNeverNil(t *testing.T) {
	result := ValidateChangeSpec(validDelta)
	assert.NotNil(t, result.Issues)
	assert.Empty(t, result.Issues)
}

func TestValidateChangeSpec_Messages(t *testing.T) {
	result := ValidateChangeSpec("no frontmatter here")
	require.Len(t, result.Issues, 2)
	assert.Equal(t, "Missing YAML frontmatter (--- ... ---)", result.Issues[0].Message)
	assert.Equal(t, "Missing required 'kind: new|delta' in frontmatter", result.Issues[1].Message)
	assert.True(t, result.HasIssue(CodeKindMissing))
	assert.False(t, result.HasIssue(CodeNewMissingTitle))
}

func TestFormatIssues(t *testing.T) {
	issues := []Issue{
		{Code: CodeFrontmatterMissing, Message: "Missing YAML frontmatter (--- ... ---)"},
		{Code: CodeKindMissing, Message: "Missing required 'kind: new|delta' in frontmatter"},
	}

	want := "Spec validation failed: changes/auth/specs/auth.md\n" +
		"- [fm.missing] Missing YAML frontmatter (--- ... ---)\n" +
		"- [fm.kind_missing] Missing required 'kind: new|delta' in frontmatter"
	assert.Equal(t, want, FormatIssues("changes/auth/specs/auth.md", issues))
	assert.Equal(t, "", FormatIssueList(nil))
}

func TestIsChangeSpecPath(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"changes/auth-refresh/specs/auth.md", true},
		{"changes/auth-refresh/specs/nested/deeper/auth.md", true},
		{"changes/auth-refresh/proposal.md", false},
		{"changes/auth-refresh/specs/auth.txt", false},
		{"changes/specs/auth.md", false},
		{"specs/auth.md", false},
		{"other/auth-refresh/specs/auth.md", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsChangeSpecPath("changes", tt.rel), tt.rel)
	}
}

func TestIsChangeSpecPath_LiteralChangesDir(t *testing.T) {
	assert.True(t, IsChangeSpecPath("work[1]/changes", "work[1]/changes/c/specs/auth.md"))
	assert.False(t, IsChangeSpecPath("work[1]/changes", "work1/changes/c/specs/auth.md"))
	assert.True(t, IsChangeSpecPath("*", "*/c/specs/auth.md"))
	assert.False(t, IsChangeSpecPath("*", "changes/c/specs/auth.md"))
	assert.True(t, IsChangeSpecPath("changes/", "changes/c/specs/auth.md"))
}
