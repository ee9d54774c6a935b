package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deskmate/pkg/bus"
	"deskmate/pkg/capability"
	"deskmate/pkg/config"
	"deskmate/pkg/contextbuf"
	"deskmate/pkg/hooks"
	"deskmate/pkg/intent"
	"deskmate/pkg/providers"
	"deskmate/pkg/sandbox"
	"deskmate/pkg/script"
	"deskmate/pkg/session"
	"deskmate/pkg/state"
	"deskmate/pkg/task"
	"deskmate/pkg/tools"
)

// queueProvider replays canned replies in order, so one test can control
// both the classification call and the QA call.
type queueProvider struct {
	replies []string
	err     error
	calls   int
}

func (p *queueProvider) Chat(ctx context.Context, messages []providers.Message, model string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	idx := p.calls
	p.calls++
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	if idx < 0 {
		return "", errors.New("no canned reply")
	}
	return p.replies[idx], nil
}

func (p *queueProvider) GetDefaultModel() string { return "stub" }

type stubOp struct {
	name        string
	props       []string
	destructive bool
	calls       atomic.Int64
	lastArgs    map[string]interface{}
	execute     func(args map[string]interface{}) *task.Result
}

func (o *stubOp) Name() string        { return o.name }
func (o *stubOp) Description() string { return o.name }

func (o *stubOp) Parameters() map[string]interface{} {
	props := map[string]interface{}{}
	for _, p := range o.props {
		props[p] = map[string]interface{}{"type": "string"}
	}
	return map[string]interface{}{"type": "object", "properties": props}
}

func (o *stubOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	o.calls.Add(1)
	o.lastArgs = args
	if o.execute != nil {
		return o.execute(args)
	}
	return task.OkResult("готово")
}

func (o *stubOp) Destructive() bool { return o.destructive }

type harness struct {
	agent *Agent
	prefs *state.Manager
	store *contextbuf.Store
	ops   map[string]*stubOp
	dir   string
}

func newHarness(t *testing.T, provider providers.Provider) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.Whitelist = []string{dir}

	ops := map[string]*stubOp{
		"app_open":   {name: "app_open", props: []string{"app"}},
		"app_close":  {name: "app_close", props: []string{"app"}, destructive: true},
		"open_path":  {name: "open_path", props: []string{"path"}},
		"web_open":   {name: "web_open", props: []string{"url"}},
		"web_search": {name: "web_search", props: []string{"query"}},
		"fs_delete":  {name: "fs_delete", props: []string{"path"}, destructive: true},
		"fs_create":  {name: "fs_create", props: []string{"path"}},
		"fs_search": {
			name:  "fs_search",
			props: []string{"query", "extensions"},
			execute: func(args map[string]interface{}) *task.Result {
				result := task.OkResult("Нашёл 2 файла")
				return result.WithData("results", []string{
					filepath.Join(dir, "report_q1.txt"),
					filepath.Join(dir, "report_q2.txt"),
				})
			},
		},
	}
	registry := capability.NewRegistry()
	for _, op := range ops {
		if err := registry.Register(op); err != nil {
			t.Fatalf("register %s: %v", op.name, err)
		}
	}

	store := contextbuf.NewStore(15 * time.Minute)
	a := New(Deps{
		Config:     cfg,
		Registry:   registry,
		Inferencer: intent.NewInferencer(cfg, provider, store),
		Synth:      script.NewSynthesizer(registry),
		Executor:   sandbox.NewExecutor(registry, cfg.Sandbox),
		Store:      store,
		Sessions:   session.NewSessionManager(dir),
		Provider:   provider,
		Prefs:      state.NewManager(dir),
		Trail:      hooks.NewTrail(nil),
		Paths:      tools.NewPathPolicy(cfg.Paths.Whitelist),
	})
	return &harness{agent: a, prefs: a.prefs, store: store, ops: ops, dir: dir}
}

func (h *harness) turn(t *testing.T, text string) bus.OutboundMessage {
	t.Helper()
	return h.agent.ProcessMessage(context.Background(), bus.InboundMessage{
		Channel:   "test",
		SessionID: "s1",
		Content:   text,
	})
}

func TestResetContextControl(t *testing.T) {
	provider := &queueProvider{}
	h := newHarness(t, provider)
	h.store.Put("s1", []string{"/a.txt"}, contextbuf.KindFile)

	out := h.turn(t, "сбрось контекст")
	if !out.Ok || out.Response != "Контекст очищен." {
		t.Fatalf("out = %+v", out)
	}
	if _, ok := h.store.Get("s1"); ok {
		t.Fatal("context survived reset")
	}
	if provider.calls != 0 {
		t.Fatalf("control phrase reached the model, %d calls", provider.calls)
	}
}

func TestDestructiveCommandAsksForConfirmation(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "удали файл old.log")
	if !out.RequiresConfirmation {
		t.Fatalf("expected confirmation request, got %+v", out)
	}
	if h.ops["fs_delete"].calls.Load() != 0 {
		t.Fatal("delete ran before confirmation")
	}

	out = h.turn(t, "да")
	if !out.Ok {
		t.Fatalf("confirmed run failed: %+v", out)
	}
	if h.ops["fs_delete"].calls.Load() != 1 {
		t.Fatalf("delete calls = %d, want 1", h.ops["fs_delete"].calls.Load())
	}
}

func TestRefusalCancelsPendingAction(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	h.turn(t, "удали файл old.log")
	out := h.turn(t, "нет")
	if !out.Ok || out.Response != "Хорошо, отменил." {
		t.Fatalf("out = %+v", out)
	}
	if h.ops["fs_delete"].calls.Load() != 0 {
		t.Fatal("refused delete still ran")
	}
}

func TestUnrelatedTurnRepromptsOnceThenExpires(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	h.turn(t, "удали файл old.log")

	// First unrelated turn gets a re-prompt, the command is held back.
	out := h.turn(t, "открой калькулятор")
	if !out.RequiresConfirmation {
		t.Fatalf("expected re-prompt, got %+v", out)
	}
	if h.ops["app_open"].calls.Load() != 0 {
		t.Fatal("command ran during re-prompt")
	}

	// Second unrelated turn expires the pending action and is processed.
	out = h.turn(t, "открой калькулятор")
	if !out.Ok || out.RequiresConfirmation {
		t.Fatalf("expired turn = %+v", out)
	}
	if h.ops["app_open"].calls.Load() != 1 {
		t.Fatal("command was not processed after expiry")
	}

	// The delete expired, so a late "да" must not run it.
	h.turn(t, "да")
	if h.ops["fs_delete"].calls.Load() != 0 {
		t.Fatal("stale confirmation executed the expired action")
	}
}

func TestDesktopPathQuestionAnsweredDirectly(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "напиши путь до рабочего стола")
	if !out.Ok {
		t.Fatalf("out = %+v", out)
	}
	if !strings.Contains(out.Response, "Рабочий стол") {
		t.Fatalf("response = %q", out.Response)
	}
	if h.ops["open_path"].calls.Load() != 0 {
		t.Fatal("path question opened something")
	}
}

func TestAutoConfirmSkipsConfirmation(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "автоподтверждение вкл")
	if !out.Ok {
		t.Fatalf("control failed: %+v", out)
	}
	if prefs := h.prefs.Get("s1"); prefs.AutoConfirm == nil || !*prefs.AutoConfirm {
		t.Fatalf("auto confirm not persisted: %+v", prefs)
	}

	out = h.turn(t, "удали файл old.log")
	if out.RequiresConfirmation {
		t.Fatal("auto-confirm session still asked")
	}
	if h.ops["fs_delete"].calls.Load() != 1 {
		t.Fatal("delete did not run under auto-confirm")
	}
}

func TestForceConfirmOverridesAutoConfirm(t *testing.T) {
	h := newHarness(t, &queueProvider{})
	h.turn(t, "автоподтверждение вкл")

	out := h.agent.ProcessMessage(context.Background(), bus.InboundMessage{
		Channel:      "test",
		SessionID:    "s1",
		Content:      "удали файл old.log",
		ForceConfirm: true,
	})
	if !out.RequiresConfirmation {
		t.Fatalf("force confirm ignored: %+v", out)
	}
}

func TestSearchThenOrdinalOpen(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "найди отчет")
	if !out.Ok {
		t.Fatalf("search failed: %+v", out)
	}
	if len(out.Items) != 2 {
		t.Fatalf("items = %v", out.Items)
	}

	out = h.turn(t, "открой 2")
	if !out.Ok {
		t.Fatalf("ordinal open failed: %+v", out)
	}
	if got := h.ops["open_path"].lastArgs["path"]; got != filepath.Join(h.dir, "report_q2.txt") {
		t.Fatalf("opened %v, want second result", got)
	}
}

func TestOrdinalOpenWithoutContext(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "открой 2")
	if out.Data["reason"] != task.ReasonAmbiguousReference {
		t.Fatalf("out = %+v", out)
	}
	if h.ops["open_path"].calls.Load() != 0 {
		t.Fatal("open ran without a referent")
	}
}

func TestModelSelectionControl(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "модель llama3:8b")
	if !out.Ok {
		t.Fatalf("control failed: %+v", out)
	}
	out = h.turn(t, "открой калькулятор")
	if out.Model != "llama3:8b" {
		t.Fatalf("model = %q, want llama3:8b", out.Model)
	}
}

func TestQuestionFallsBackToChat(t *testing.T) {
	provider := &queueProvider{replies: []string{
		`{"action": "UNKNOWN", "confidence": 0, "params": {"reason": "clarify", "message": "Не понял."}}`,
		"Градиент показывает направление наискорейшего роста функции.",
	}}
	h := newHarness(t, provider)

	out := h.turn(t, "что такое градиент?")
	if !out.Ok {
		t.Fatalf("qa turn failed: %+v", out)
	}
	if out.Data["intent"] != "qa" {
		t.Fatalf("data = %+v", out.Data)
	}
	if out.Response != "Градиент показывает направление наискорейшего роста функции." {
		t.Fatalf("response = %q", out.Response)
	}
}

func TestInferenceUnavailable(t *testing.T) {
	h := newHarness(t, &queueProvider{err: errors.New("connection refused")})

	out := h.turn(t, "сделай красиво")
	if out.Ok {
		t.Fatalf("expected failure, got %+v", out)
	}
	if out.Data["reason"] != task.ReasonInferenceUnavailable {
		t.Fatalf("reason = %v", out.Data["reason"])
	}
}

func TestLowConfidenceClassificationAsksFirst(t *testing.T) {
	provider := &queueProvider{replies: []string{
		`{"action": "OPEN_APP", "confidence": 0.3, "params": {"app": "calculator"}}`,
	}}
	h := newHarness(t, provider)

	out := h.turn(t, "абракадабра")
	if !out.RequiresConfirmation {
		t.Fatalf("low-confidence action ran without asking: %+v", out)
	}
	if h.ops["app_open"].calls.Load() != 0 {
		t.Fatal("app_open ran before confirmation")
	}
}

func TestFileCreateRunsWithoutConfirmation(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	out := h.turn(t, "создай файл заметки.txt")
	if !out.Ok || out.RequiresConfirmation {
		t.Fatalf("out = %+v", out)
	}
	if h.ops["fs_create"].calls.Load() != 1 {
		t.Fatal("fs_create not invoked")
	}
}

func TestConcurrentTurnsOnOneSessionSerialize(t *testing.T) {
	h := newHarness(t, &queueProvider{})

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.turn(t, "найди отчет")
		}()
	}
	wg.Wait()

	if got := h.ops["fs_search"].calls.Load(); got != turns {
		t.Fatalf("fs_search calls = %d, want %d", got, turns)
	}
	out := h.turn(t, "открой 2")
	if !out.Ok {
		t.Fatalf("ordinal open after concurrent searches failed: %+v", out)
	}
	if h.ops["open_path"].lastArgs["path"] != filepath.Join(h.dir, "report_q2.txt") {
		t.Fatalf("path = %v", h.ops["open_path"].lastArgs["path"])
	}
}

func TestOutOfWhitelistPathAsksForConfirmation(t *testing.T) {
	h := newHarness(t, &queueProvider{})
	outside := filepath.Join(t.TempDir(), "заметки.txt")

	out := h.turn(t, "создай файл "+outside)
	if !out.RequiresConfirmation {
		t.Fatalf("expected confirmation request, got %+v", out)
	}
	if !strings.Contains(out.Response, "Требуется подтверждение для пути") {
		t.Fatalf("response = %q", out.Response)
	}
	if h.ops["fs_create"].calls.Load() != 0 {
		t.Fatal("fs_create ran before confirmation")
	}

	out = h.turn(t, "да")
	if !out.Ok {
		t.Fatalf("confirmed run failed: %+v", out)
	}
	if h.ops["fs_create"].calls.Load() != 1 {
		t.Fatal("fs_create not invoked after confirmation")
	}
	if h.ops["fs_create"].lastArgs["path"] != outside {
		t.Fatalf("path = %v", h.ops["fs_create"].lastArgs["path"])
	}
}
