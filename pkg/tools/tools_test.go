package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deskmate/pkg/config"
	"deskmate/pkg/task"
)

func testPolicy(t *testing.T) (*PathPolicy, string) {
	t.Helper()
	root := t.TempDir()
	return NewPathPolicy([]string{root}), root
}

func TestPathPolicyFlagsOutsideWhitelist(t *testing.T) {
	policy, _ := testPolicy(t)
	if policy.Allowed("/etc/passwd") {
		t.Fatal("path outside whitelist counted as confined")
	}
	if policy.Allowed("../../etc/passwd") {
		t.Fatal("traversal path counted as confined")
	}
	if !policy.Allowed("notes.txt") {
		t.Fatal("relative path inside the first root flagged")
	}
}

func TestPathPolicyResolvesRelativeAgainstFirstRoot(t *testing.T) {
	policy, root := testPolicy(t)
	resolved, err := policy.Resolve("notes.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != filepath.Join(root, "notes.txt") {
		t.Fatalf("resolved = %s", resolved)
	}
}

func TestPathPolicyFlagsSymlinkEscape(t *testing.T) {
	policy, root := testPolicy(t)
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if policy.Allowed(link) {
		t.Fatal("symlink escaping the whitelist counted as confined")
	}
}

func TestCreateWriteReadDelete(t *testing.T) {
	policy, root := testPolicy(t)
	ctx := context.Background()

	create := NewCreateFileOp(policy)
	result := create.Execute(ctx, map[string]interface{}{"path": "a.txt"})
	if !result.Ok {
		t.Fatalf("create: %+v", result)
	}
	if result = create.Execute(ctx, map[string]interface{}{"path": "a.txt"}); result.Ok {
		t.Fatal("create over existing file succeeded")
	}

	write := NewWriteFileOp(policy)
	if result = write.Execute(ctx, map[string]interface{}{"path": "a.txt", "content": "привет"}); !result.Ok {
		t.Fatalf("write: %+v", result)
	}

	appendOp := NewAppendFileOp(policy)
	if result = appendOp.Execute(ctx, map[string]interface{}{"path": "a.txt", "content": " мир"}); !result.Ok {
		t.Fatalf("append: %+v", result)
	}

	read := NewReadFileOp(policy, 0)
	result = read.Execute(ctx, map[string]interface{}{"path": "a.txt"})
	if !result.Ok || result.Stdout != "привет мир" {
		t.Fatalf("read: %+v", result)
	}

	del := NewDeleteOp(policy)
	if result = del.Execute(ctx, map[string]interface{}{"path": "a.txt"}); !result.Ok {
		t.Fatalf("delete: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Fatal("file still exists after delete")
	}
}

func TestWriteOutsideWhitelistExecutes(t *testing.T) {
	// Confinement gates confirmation, not execution: by the time an op
	// runs, the user has already approved any out-of-whitelist path.
	policy, _ := testPolicy(t)
	outside := filepath.Join(t.TempDir(), "approved.txt")
	write := NewWriteFileOp(policy)
	result := write.Execute(context.Background(), map[string]interface{}{
		"path": outside, "content": "x",
	})
	if !result.Ok {
		t.Fatalf("result = %+v", result)
	}
	data, err := os.ReadFile(outside)
	if err != nil || string(data) != "x" {
		t.Fatalf("read back: %q, %v", data, err)
	}
}

func TestMoveIntoDirectory(t *testing.T) {
	policy, root := testPolicy(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	move := NewMoveOp(policy)
	result := move.Execute(ctx, map[string]interface{}{"src": "a.txt", "dst": "sub"})
	if !result.Ok {
		t.Fatalf("move: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "sub", "a.txt")); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
}

func TestListDirSortsDirectoriesFirst(t *testing.T) {
	policy, root := testPolicy(t)
	for _, name := range []string{"z.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	list := NewListDirOp(policy)
	result := list.Execute(context.Background(), map[string]interface{}{"path": "."})
	if !result.Ok {
		t.Fatalf("list: %+v", result)
	}
	results := result.Results()
	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
	if filepath.Base(results[0]) != "sub" {
		t.Fatalf("directory not first: %v", results)
	}
}

func TestLocalSearchRanking(t *testing.T) {
	policy, root := testPolicy(t)
	old := filepath.Join(root, "report_2023.pdf")
	fresh := filepath.Join(root, "report_2024.pdf")
	other := filepath.Join(root, "photo.png")
	hidden := filepath.Join(root, ".hidden_report.pdf")
	for _, path := range []string{old, fresh, other, hidden} {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	search := NewLocalSearchOp(policy, 5)
	result := search.Execute(context.Background(), map[string]interface{}{"query": "report"})
	if !result.Ok {
		t.Fatalf("search: %+v", result)
	}
	results := result.Results()
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0] != fresh {
		t.Fatalf("newer file not ranked first: %v", results)
	}
	for _, path := range results {
		if strings.Contains(path, ".hidden") {
			t.Fatal("hidden file surfaced in results")
		}
	}
}

func TestLocalSearchExtensionFilter(t *testing.T) {
	policy, root := testPolicy(t)
	for _, name := range []string{"notes.txt", "notes.pdf"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	search := NewLocalSearchOp(policy, 5)
	result := search.Execute(context.Background(), map[string]interface{}{
		"query":      "notes",
		"extensions": []interface{}{".pdf"},
	})
	if !result.Ok {
		t.Fatalf("search: %+v", result)
	}
	results := result.Results()
	if len(results) != 1 || !strings.HasSuffix(results[0], "notes.pdf") {
		t.Fatalf("results = %v", results)
	}
}

const sampleSearchPage = `<html><body>
<div class="result">
  <a class="result__a" href="/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=abc">Go Documentation</a>
</div>
<div class="result">
  <a class="result__a" href="https://golang.org/pkg/">Packages</a>
</div>
<div class="result">
  <a class="result__a" href="javascript:void(0)">Ad</a>
</div>
</body></html>`

func TestWebSearchParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "golang docs" {
			t.Errorf("query = %q", r.URL.Query().Get("q"))
		}
		w.Write([]byte(sampleSearchPage))
	}))
	defer server.Close()

	op := NewWebSearchOp(config.WebConfig{SearchURL: server.URL + "/html/", MaxResults: 5})
	op.SetClient(server.Client())

	result := op.Execute(context.Background(), map[string]interface{}{"query": "golang docs"})
	if !result.Ok {
		t.Fatalf("search: %+v", result)
	}
	results := result.Results()
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0] != "https://go.dev/doc/" {
		t.Fatalf("redirect not unwrapped: %v", results[0])
	}
	if results[1] != "https://golang.org/pkg/" {
		t.Fatalf("direct link mangled: %v", results[1])
	}
}

func TestWebOpenValidatesScheme(t *testing.T) {
	op := NewWebOpenOp(config.WebConfig{})
	var opened string
	op.SetOpener(func(ctx context.Context, target string) error {
		opened = target
		return nil
	})

	result := op.Execute(context.Background(), map[string]interface{}{"url": "file:///etc/passwd"})
	if result.Ok || result.Reason() != task.ReasonCapabilityViolation {
		t.Fatalf("file scheme accepted: %+v", result)
	}

	result = op.Execute(context.Background(), map[string]interface{}{"url": "https://go.dev"})
	if !result.Ok || opened != "https://go.dev" {
		t.Fatalf("https open failed: %+v", result)
	}
}

func TestAppOpenRejectsUnknownApp(t *testing.T) {
	op := NewAppOpenOp(map[string]config.AppConfig{"calculator": {}})
	op.SetRunner(func(ctx context.Context, argv []string) error { return nil })

	result := op.Execute(context.Background(), map[string]interface{}{"app": "steam"})
	if result.Ok || result.Reason() != task.ReasonCapabilityViolation {
		t.Fatalf("unknown app accepted: %+v", result)
	}
}

func TestAppOpenUsesConfiguredCommand(t *testing.T) {
	op := NewAppOpenOp(map[string]config.AppConfig{
		"editor": {Command: "myedit", Args: []string{"--new"}},
	})
	var launched []string
	op.SetRunner(func(ctx context.Context, argv []string) error {
		launched = argv
		return nil
	})

	result := op.Execute(context.Background(), map[string]interface{}{"app": "editor"})
	if !result.Ok {
		t.Fatalf("open: %+v", result)
	}
	if len(launched) != 2 || launched[0] != "myedit" || launched[1] != "--new" {
		t.Fatalf("launched = %v", launched)
	}
}

func TestAppCloseUsesProcessName(t *testing.T) {
	op := NewAppCloseOp(map[string]config.AppConfig{
		"browser": {Command: "/usr/bin/firefox", Process: "firefox"},
	})
	var killed []string
	op.SetRunner(func(ctx context.Context, argv []string) error {
		killed = argv
		return nil
	})

	result := op.Execute(context.Background(), map[string]interface{}{"app": "browser"})
	if !result.Ok {
		t.Fatalf("close: %+v", result)
	}
	joined := strings.Join(killed, " ")
	if !strings.Contains(joined, "firefox") {
		t.Fatalf("killed = %v", killed)
	}
}
