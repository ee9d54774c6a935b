package sandbox

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"deskmate/pkg/capability"
	"deskmate/pkg/config"
	"deskmate/pkg/script"
	"deskmate/pkg/task"
)

type recordingOp struct {
	name     string
	props    []string
	required []string
	calls    int32
	execute  func(ctx context.Context, args map[string]interface{}) *task.Result
}

func (o *recordingOp) Name() string        { return o.name }
func (o *recordingOp) Description() string { return o.name }

func (o *recordingOp) Parameters() map[string]interface{} {
	props := map[string]interface{}{}
	for _, p := range o.props {
		props[p] = map[string]interface{}{"type": "string"}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(o.required) > 0 {
		schema["required"] = o.required
	}
	return schema
}

func (o *recordingOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	atomic.AddInt32(&o.calls, 1)
	if o.execute != nil {
		return o.execute(ctx, args)
	}
	return task.OkResult("done")
}

func (o *recordingOp) callCount() int { return int(atomic.LoadInt32(&o.calls)) }

func newExecutor(t *testing.T, ops []*recordingOp, cfg config.SandboxConfig) *Executor {
	t.Helper()
	reg := capability.NewRegistry()
	for _, op := range ops {
		if err := reg.Register(op); err != nil {
			t.Fatalf("register %s: %v", op.name, err)
		}
	}
	return NewExecutor(reg, cfg)
}

func defaultSandboxConfig() config.SandboxConfig {
	return config.SandboxConfig{Timeout: 5 * time.Second, OutputLimit: 64 * 1024}
}

func TestRejectsUnregisteredOperation(t *testing.T) {
	exec := newExecutor(t, nil, defaultSandboxConfig())
	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "rm_rf"}},
	})
	if result.Ok {
		t.Fatal("unregistered operation executed")
	}
	if result.Reason() != task.ReasonCapabilityViolation {
		t.Fatalf("reason = %q, want capability_violation", result.Reason())
	}
}

func TestRejectsUndeclaredArgumentWithoutSideEffects(t *testing.T) {
	op := &recordingOp{name: "fs_list", props: []string{"path"}}
	exec := newExecutor(t, []*recordingOp{op}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{
			Kind: script.StepInvoke,
			Op:   "fs_list",
			Args: map[string]interface{}{"path": "/tmp", "recursive": true},
		}},
	})
	if result.Ok || result.Reason() != task.ReasonCapabilityViolation {
		t.Fatalf("result = %+v", result)
	}
	if op.callCount() != 0 {
		t.Fatalf("operation executed %d times despite rejection", op.callCount())
	}
}

func TestRejectsMissingRequiredArgument(t *testing.T) {
	op := &recordingOp{name: "fs_read", props: []string{"path"}, required: []string{"path"}}
	exec := newExecutor(t, []*recordingOp{op}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "fs_read", Args: map[string]interface{}{}}},
	})
	if result.Ok || result.Reason() != task.ReasonCapabilityViolation {
		t.Fatalf("result = %+v", result)
	}
	if op.callCount() != 0 {
		t.Fatal("operation executed despite missing required argument")
	}
}

func TestDeadlineCutsOffRunawayOperation(t *testing.T) {
	op := &recordingOp{
		name:  "slow",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			// Deliberately ignores its context.
			time.Sleep(2 * time.Second)
			return task.OkResult("too late")
		},
	}
	cfg := config.SandboxConfig{Timeout: 100 * time.Millisecond, OutputLimit: 64 * 1024}
	exec := newExecutor(t, []*recordingOp{op}, cfg)

	started := time.Now()
	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "slow", Args: map[string]interface{}{}}},
	})
	elapsed := time.Since(started)

	if result.Ok || result.Reason() != task.ReasonExecutionTimeout {
		t.Fatalf("result = %+v", result)
	}
	if elapsed > cfg.Timeout+250*time.Millisecond {
		t.Fatalf("cutoff took %v, want within 250ms of the %v deadline", elapsed, cfg.Timeout)
	}
}

func TestOutputBudgetOverflow(t *testing.T) {
	op := &recordingOp{
		name:  "chatty",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			return task.OkResult(strings.Repeat("a", 2048))
		},
	}
	cfg := config.SandboxConfig{Timeout: 5 * time.Second, OutputLimit: 1024}
	exec := newExecutor(t, []*recordingOp{op}, cfg)

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "chatty", Args: map[string]interface{}{}}},
	})
	if result.Ok || result.Reason() != task.ReasonOutputOverflow {
		t.Fatalf("result = %+v", result)
	}
	truncated, _ := result.Data["truncated_output"].(string)
	if !strings.Contains(truncated, "обрезан") {
		t.Fatal("truncated output lacks truncation marker")
	}
	if len(truncated) > 1024+len("\n... [вывод обрезан]") {
		t.Fatalf("truncated output too long: %d bytes", len(truncated))
	}
}

func TestOutputBudgetCountsStderr(t *testing.T) {
	op := &recordingOp{
		name:  "noisy",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			result := task.OkResult("ok")
			result.Stderr = strings.Repeat("e", 2048)
			return result
		},
	}
	cfg := config.SandboxConfig{Timeout: 5 * time.Second, OutputLimit: 1024}
	exec := newExecutor(t, []*recordingOp{op}, cfg)

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "noisy", Args: map[string]interface{}{}}},
	})
	if result.Ok || result.Reason() != task.ReasonOutputOverflow {
		t.Fatalf("stderr escaped the output budget: %+v", result)
	}
}

func TestTruncationKeepsRuneBoundary(t *testing.T) {
	// Cyrillic output is two bytes per rune, so a byte-offset cut lands
	// mid-rune for odd limits.
	op := &recordingOp{
		name:  "chatty",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			return task.OkResult(strings.Repeat("ф", 1024))
		},
	}
	cfg := config.SandboxConfig{Timeout: 5 * time.Second, OutputLimit: 1023}
	exec := newExecutor(t, []*recordingOp{op}, cfg)

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "chatty", Args: map[string]interface{}{}}},
	})
	if result.Ok || result.Reason() != task.ReasonOutputOverflow {
		t.Fatalf("result = %+v", result)
	}
	truncated, _ := result.Data["truncated_output"].(string)
	if !utf8.ValidString(truncated) {
		t.Fatal("truncated output is not valid UTF-8")
	}
	if !strings.Contains(truncated, "обрезан") {
		t.Fatal("truncated output lacks truncation marker")
	}
}

func TestOpenFirstUsesPreviousResults(t *testing.T) {
	search := &recordingOp{
		name:  "fs_search",
		props: []string{"query"},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			return task.OkResult("нашлось 2 файла").
				WithData("results", []string{"/a.pdf", "/b.pdf"})
		},
	}
	var openedWith interface{}
	open := &recordingOp{
		name:  "open_path",
		props: []string{"path"},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			openedWith = args["path"]
			return task.OkResult("открыто")
		},
	}
	exec := newExecutor(t, []*recordingOp{search, open}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{
			{Kind: script.StepInvoke, Op: "fs_search", Args: map[string]interface{}{"query": "pdf"}},
			{Kind: script.StepOpenFirst, Op: "open_path", ArgKey: "path"},
		},
	})
	if !result.Ok {
		t.Fatalf("result = %+v", result)
	}
	if openedWith != "/a.pdf" {
		t.Fatalf("opened %v, want /a.pdf", openedWith)
	}
	if result.Data["opened"] != "/a.pdf" {
		t.Fatalf("data opened = %v", result.Data["opened"])
	}
	if len(result.Results()) != 2 {
		t.Fatalf("results = %v", result.Results())
	}
}

func TestOpenFirstSkippedWhenNothingFound(t *testing.T) {
	search := &recordingOp{
		name:  "fs_search",
		props: []string{"query"},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			return task.OkResult("ничего не найдено").WithData("results", []string{})
		},
	}
	open := &recordingOp{name: "open_path", props: []string{"path"}}
	exec := newExecutor(t, []*recordingOp{search, open}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{
			{Kind: script.StepInvoke, Op: "fs_search", Args: map[string]interface{}{"query": "pdf"}},
			{Kind: script.StepOpenFirst, Op: "open_path", ArgKey: "path"},
		},
	})
	if !result.Ok {
		t.Fatalf("result = %+v", result)
	}
	if open.callCount() != 0 {
		t.Fatal("open executed with no results to open")
	}
}

func TestPanicBecomesOperationFailure(t *testing.T) {
	op := &recordingOp{
		name:  "fragile",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			panic("boom")
		},
	}
	exec := newExecutor(t, []*recordingOp{op}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{{Kind: script.StepInvoke, Op: "fragile", Args: map[string]interface{}{}}},
	})
	if result.Ok || result.Reason() != task.ReasonOperationFailure {
		t.Fatalf("result = %+v", result)
	}
}

func TestFailedStepStopsScript(t *testing.T) {
	first := &recordingOp{
		name:  "failing",
		props: []string{},
		execute: func(ctx context.Context, args map[string]interface{}) *task.Result {
			return task.ErrorResult(task.ReasonOperationFailure, "не получилось")
		},
	}
	second := &recordingOp{name: "never", props: []string{}}
	exec := newExecutor(t, []*recordingOp{first, second}, defaultSandboxConfig())

	result := exec.Run(context.Background(), &script.Script{
		Steps: []script.Step{
			{Kind: script.StepInvoke, Op: "failing", Args: map[string]interface{}{}},
			{Kind: script.StepInvoke, Op: "never", Args: map[string]interface{}{}},
		},
	})
	if result.Ok {
		t.Fatal("script succeeded despite failing step")
	}
	if second.callCount() != 0 {
		t.Fatal("step after failure executed")
	}
}
