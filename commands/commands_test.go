package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specmerge/config"
	"github.com/c360studio/specmerge/notify"
	"github.com/c360studio/specmerge/storage"
)

const (
	canonicalAuth = "# Auth\n\n## Requirements\n\n### Login\n- Supports email and password\n- Legacy SSO\n\n### Session\n- Expires after 30 minutes\n"

	mergedAuth = "# Auth\n\n## Requirements\n\n### Login\n- Supports email, password, and OTP\n\n\n### Session\n- Expires after 30 minutes\n"

	deltaAuth = `---
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
`

	newBilling = "---\nkind: new\n---\n# Billing\n\n## Overview\n\nInvoices.\n\n## Requirements\n\n### Invoices\n- Monthly\n- Annual\n"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// setupRepo creates a repository with one canonical spec and a change
// holding a delta and a new document.
func setupRepo(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := t.TempDir()
	writeFile(t, root, "specs/auth.md", canonicalAuth)
	writeFile(t, root, "changes/auth-refresh/specs/auth.md", deltaAuth)
	writeFile(t, root, "changes/auth-refresh/specs/billing.md", newBilling)
	return root
}

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(cmd *cobra.Command, args ...string) result {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestMergeChangeSpecs_MissingChange(t *testing.T) {
	res := execute(NewMergeChangeSpecsCmd())
	require.Error(t, res.err)
	assert.Equal(t, "Missing required --change <name>. Example: merge-change-specs --change auth-refresh", res.err.Error())
	assert.Empty(t, res.stdout)
}

func TestMergeChangeSpecs_Run(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewMergeChangeSpecsCmd(), "--repo", root, "--change", "auth-refresh")
	require.NoError(t, res.err)

	assert.Equal(t, `{
  "change": "auth-refresh",
  "dryRun": false,
  "counts": {
    "created": 1,
    "modified": 1,
    "skipped": 0
  },
  "created": [
    "specs/billing.md"
  ],
  "modified": [
    "specs/auth.md"
  ],
  "skipped": []
}
`, res.stdout)
	assert.Equal(t, mergedAuth, readFile(t, root, "specs/auth.md"))
	assert.Equal(t, "# Billing\n\n## Overview\n\nInvoices.\n\n## Requirements\n\n### Invoices\n- Monthly\n- Annual\n",
		readFile(t, root, "specs/billing.md"))
}

func TestMerge_DryRun(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "auth-refresh", "--dry-run")
	require.NoError(t, res.err)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))
	assert.Equal(t, true, summary["dryRun"])
	assert.Equal(t, canonicalAuth, readFile(t, root, "specs/auth.md"))
	_, err := os.Stat(filepath.Join(root, "specs", "billing.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestMerge_Failures(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "../outside")
	require.Error(t, res.err)
	assert.Equal(t, "Refusing unsafe path: ../outside", res.err.Error())

	res = execute(NewRootCmd(), "merge", "--repo", root, "-c", "missing")
	require.Error(t, res.err)
	assert.Equal(t, "Missing change specs directory: changes/missing/specs", res.err.Error())

	res = execute(NewRootCmd(), "merge", "--repo", root)
	require.Error(t, res.err)
	assert.Equal(t, "Missing required --change <name>. Example: specmerge merge --change auth-refresh", res.err.Error())
}

func TestMerge_MetricsFile(t *testing.T) {
	root := setupRepo(t)
	metricsPath := filepath.Join(t.TempDir(), "specmerge.prom")

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "auth-refresh", "--metrics-file", metricsPath)
	require.NoError(t, res.err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `specmerge_merge_runs_total{result="ok"} 1`)
	assert.Contains(t, string(data), `specmerge_merge_operations_total{op="removed"} 1`)
	assert.Contains(t, string(data), `specmerge_validation_documents_total{result="valid"} 2`)
}

func TestMerge_PublishesEvent(t *testing.T) {
	root := setupRepo(t)
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("specmerge.merged.auth-refresh", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	writeFile(t, root, "specmerge.yaml", "nats:\n  url: "+server.ClientURL()+"\n")

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "auth-refresh")
	require.NoError(t, res.err)

	select {
	case msg := <-ch:
		var event notify.Event
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		assert.Equal(t, "auth-refresh", event.Change)
		assert.NotEmpty(t, event.RunID)
		require.NotNil(t, event.Summary)
		assert.Equal(t, []string{"specs/billing.md"}, event.Summary.Created)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for merge event")
	}
}

func TestMerge_DryRunDoesNotPublish(t *testing.T) {
	root := setupRepo(t)
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("specmerge.merged.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	writeFile(t, root, "specmerge.yaml", "nats:\n  url: "+server.ClientURL()+"\n")

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "auth-refresh", "--dry-run")
	require.NoError(t, res.err)

	select {
	case msg := <-ch:
		t.Fatalf("unexpected event on %s", msg.Subject)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHistory_EmbeddedNATS(t *testing.T) {
	root := setupRepo(t)
	storeDir := t.TempDir()
	writeFile(t, root, "specmerge.yaml",
		"nats:\n  embedded: true\n  store_dir: "+storeDir+"\n  history_bucket: RUNS\n")

	res := execute(NewRootCmd(), "merge", "--repo", root, "-c", "auth-refresh")
	require.NoError(t, res.err)

	res = execute(NewRootCmd(), "merge", "--repo", root, "-c", "missing")
	require.Error(t, res.err)

	res = execute(NewRootCmd(), "history", "--repo", root, "--json")
	require.NoError(t, res.err)

	var records []storage.RunRecord
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &records))
	require.Len(t, records, 2)

	byChange := map[string]storage.RunRecord{}
	for _, r := range records {
		byChange[r.Change] = r
	}
	assert.Equal(t, storage.RunResultOK, byChange["auth-refresh"].Result)
	assert.Equal(t, []string{"specs/auth.md"}, byChange["auth-refresh"].Modified)
	assert.Equal(t, storage.RunResultFailed, byChange["missing"].Result)
	assert.Equal(t, "Missing change specs directory: changes/missing/specs", byChange["missing"].Error)

	res = execute(NewRootCmd(), "history", "--repo", root, "-c", "auth-refresh")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "auth-refresh")
	assert.NotContains(t, res.stdout, "missing")
}

func TestHistory_Disabled(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewRootCmd(), "history", "--repo", root)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "run history is disabled")
}

func TestValidateChangeSpec(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "changes/auth-refresh/specs/broken.md", "# Broken\n")

	tests := []struct {
		name       string
		path       string
		wantErr    string
		wantStdout string
		wantStderr string
	}{
		{
			name:       "valid delta",
			path:       "changes/auth-refresh/specs/auth.md",
			wantStdout: "OK\n",
		},
		{
			name:    "absolute path",
			path:    "/etc/passwd",
			wantErr: "Refusing absolute path; pass a repo-relative path.",
		},
		{
			name:    "path traversal",
			path:    "changes/../../secret.md",
			wantErr: "Refusing path traversal; '..' is not allowed.",
		},
		{
			name:    "invalid document",
			path:    "changes/auth-refresh/specs/broken.md",
			wantErr: ErrReported.Error(),
			wantStderr: "Spec validation failed: changes/auth-refresh/specs/broken.md\n" +
				"- [fm.missing] Missing YAML frontmatter (--- ... ---)\n" +
				"- [fm.kind_missing] Missing required 'kind: new|delta' in frontmatter\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(NewValidateChangeSpecCmd(), "--repo", root, tt.path)
			if tt.wantErr != "" {
				require.Error(t, res.err)
				assert.Equal(t, tt.wantErr, res.err.Error())
			} else {
				require.NoError(t, res.err)
			}
			assert.Equal(t, tt.wantStdout, res.stdout)
			assert.Equal(t, tt.wantStderr, res.stderr)
		})
	}
}

func TestValidateChangeSpec_Usage(t *testing.T) {
	res := execute(NewValidateChangeSpecCmd())
	require.ErrorIs(t, res.err, ErrReported)
	assert.True(t, strings.HasPrefix(res.stdout, "Usage:\n  validate-change-spec <repo-relative-path>"), res.stdout)
	assert.Contains(t, res.stdout, "validate-change-spec changes/auth-refresh/specs/auth/login.md")
	assert.Empty(t, res.stderr)
}

func TestValidate_Change(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewRootCmd(), "validate", "--repo", root, "-c", "auth-refresh")
	require.NoError(t, res.err)
	assert.Equal(t, "OK changes/auth-refresh/specs/auth.md\nOK changes/auth-refresh/specs/billing.md\n", res.stdout)

	writeFile(t, root, "changes/auth-refresh/specs/zz.md", "---\nkind: new\n---\n# Zed\n")
	res = execute(NewRootCmd(), "validate", "--repo", root, "-c", "auth-refresh")
	require.ErrorIs(t, res.err, ErrReported)
	assert.Contains(t, res.stderr, "Spec validation failed: changes/auth-refresh/specs/zz.md\n")
	assert.Contains(t, res.stderr, "- [new.missing_overview] Missing '## Overview' section\n")
	assert.Contains(t, res.stderr, "1 of 3 change specs failed validation")
}

func TestTopics(t *testing.T) {
	root := setupRepo(t)

	res := execute(NewRootCmd(), "topics", "--repo", root, "specs/auth.md")
	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"LINE", "TOPIC", "BULLETS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"5", "Login", "2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"9", "Session", "1"}, strings.Fields(lines[2]))

	res = execute(NewRootCmd(), "topics", "--repo", root, "--json", "specs/auth.md")
	require.NoError(t, res.err)
	var topics []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &topics))
	assert.Len(t, topics, 2)

	res = execute(NewRootCmd(), "topics", "--repo", root, "../specs/auth.md")
	require.ErrorIs(t, res.err, ErrPathTraversal)
}

func TestChanges(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "changes/a-first/specs/x.md", newBilling)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "changes", "no-specs"), 0755))

	res := execute(NewRootCmd(), "changes", "--repo", root, "--json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `[{"name":"a-first","specs":1},{"name":"auth-refresh","specs":2}]`, res.stdout)
}

func TestConfigInit(t *testing.T) {
	root := setupRepo(t)
	target := filepath.Join(root, config.ProjectConfigFile)

	res := execute(NewRootCmd(), "config", "init", "--repo", root)
	require.NoError(t, res.err)
	assert.Equal(t, target+"\n", res.stdout)

	cfg, err := config.LoadFromFile(target)
	require.NoError(t, err)
	assert.Equal(t, "changes", cfg.Layout.ChangesDir)
	assert.Equal(t, "specs", cfg.Layout.SpecsDir)

	res = execute(NewRootCmd(), "config", "init", "--repo", root)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "already exists")

	res = execute(NewRootCmd(), "config", "init", "--repo", root, "--force")
	require.NoError(t, res.err)
}

func TestVersion(t *testing.T) {
	res := execute(NewRootCmd(), "version")
	require.NoError(t, res.err)
	assert.Equal(t, "specmerge version "+Version+" (build: "+BuildTime+")\n", res.stdout)
}

func TestCheckRelativePath(t *testing.T) {
	assert.NoError(t, CheckRelativePath("changes/a/specs/x.md"))
	assert.ErrorIs(t, CheckRelativePath("/abs/x.md"), ErrAbsolutePath)
	assert.ErrorIs(t, CheckRelativePath("a/../x.md"), ErrPathTraversal)
	assert.ErrorIs(t, CheckRelativePath("a..b.md"), ErrPathTraversal)
}
