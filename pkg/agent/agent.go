// Package agent drives the turn pipeline: utterance in, classified task,
// synthesized script, sandboxed execution, user-facing reply out. Sessions
// are processed one turn at a time; different sessions run in parallel.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deskmate/pkg/bus"
	"deskmate/pkg/capability"
	"deskmate/pkg/config"
	"deskmate/pkg/contextbuf"
	"deskmate/pkg/hooks"
	"deskmate/pkg/intent"
	"deskmate/pkg/logger"
	"deskmate/pkg/providers"
	"deskmate/pkg/sandbox"
	"deskmate/pkg/script"
	"deskmate/pkg/session"
	"deskmate/pkg/state"
	"deskmate/pkg/task"
)

const historyKeep = 20

// PathGuard reports whether a filesystem path stays inside the configured
// whitelist. Paths outside it are not denied, they are held for the user's
// confirmation.
type PathGuard interface {
	Allowed(path string) bool
}

// pendingAction is a destructive script awaiting the user's yes/no.
// Unrelated input gets one re-prompt, after that the action expires.
type pendingAction struct {
	script     *script.Script
	created    time.Time
	reprompted bool
}

type Agent struct {
	cfg        *config.Config
	registry   *capability.Registry
	inferencer *intent.Inferencer
	synth      *script.Synthesizer
	executor   *sandbox.Executor
	store      *contextbuf.Store
	sessions   *session.SessionManager
	provider   providers.Provider
	prefs      *state.Manager
	trail      *hooks.Trail
	paths      PathGuard

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	pendings map[string]*pendingAction
}

type Deps struct {
	Config     *config.Config
	Registry   *capability.Registry
	Inferencer *intent.Inferencer
	Synth      *script.Synthesizer
	Executor   *sandbox.Executor
	Store      *contextbuf.Store
	Sessions   *session.SessionManager
	Provider   providers.Provider
	Prefs      *state.Manager
	Trail      *hooks.Trail
	Paths      PathGuard
}

func New(deps Deps) *Agent {
	return &Agent{
		cfg:        deps.Config,
		registry:   deps.Registry,
		inferencer: deps.Inferencer,
		synth:      deps.Synth,
		executor:   deps.Executor,
		store:      deps.Store,
		sessions:   deps.Sessions,
		provider:   deps.Provider,
		prefs:      deps.Prefs,
		trail:      deps.Trail,
		paths:      deps.Paths,
		locks:      map[string]*sync.Mutex{},
		pendings:   map[string]*pendingAction{},
	}
}

// ProcessMessage runs one full turn and returns the reply.
func (a *Agent) ProcessMessage(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	lock := a.sessionLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()

	turnID := hooks.NewTurnID()
	started := time.Now()
	model := a.resolveModel(msg)

	a.trail.Record(ctx, hooks.AuditEntry{
		TurnID:    turnID,
		Event:     hooks.EventTurnStart,
		SessionID: msg.SessionID,
		Channel:   msg.Channel,
		Message:   msg.Content,
		Ok:        true,
	})

	out := a.processTurn(ctx, turnID, msg, model)
	out.Channel = msg.Channel
	out.SessionID = msg.SessionID
	out.Model = model

	a.rememberTurn(msg.SessionID, msg.Content, out.Response)

	a.trail.Record(ctx, hooks.AuditEntry{
		TurnID:     turnID,
		Event:      hooks.EventTurnEnd,
		SessionID:  msg.SessionID,
		Ok:         out.Ok,
		DurationMs: time.Since(started).Milliseconds(),
	})
	return out
}

func (a *Agent) processTurn(ctx context.Context, turnID string, msg bus.InboundMessage, model string) bus.OutboundMessage {
	utterance := strings.TrimSpace(msg.Content)
	sessionID := msg.SessionID

	if utterance == "" {
		return failure("Я не расслышал команду, повторите её.", "empty")
	}

	// A held destructive action is resolved before anything else.
	if pending := a.takePending(sessionID); pending != nil {
		switch {
		case isAffirmation(utterance):
			return a.execute(ctx, turnID, sessionID, pending.script)
		case isRefusal(utterance):
			return success("Хорошо, отменил.", nil)
		case !pending.reprompted:
			pending.reprompted = true
			a.setPending(sessionID, pending)
			return bus.OutboundMessage{
				Response:             "Сначала ответьте: да или нет.",
				Ok:                   true,
				RequiresConfirmation: true,
			}
		}
		// Second unrelated turn: the held action expires and the
		// utterance is processed normally.
	}

	if control, ok := intent.ParseControl(utterance); ok {
		return a.handleControl(sessionID, control)
	}

	if normalized := strings.ToLower(utterance); isDesktopPathQuestion(normalized) {
		desktop := a.desktopDir()
		if desktop == "" {
			return failure("Не удалось определить путь до рабочего стола.", task.ReasonOperationFailure)
		}
		return success(fmt.Sprintf("Рабочий стол находится здесь: %s", desktop), nil)
	}

	if desktop, ok := a.desktopShortcut(utterance); ok {
		return a.guardAndRun(ctx, turnID, msg, desktop)
	}

	if cmd, ok := intent.ParseFileCommand(utterance); ok {
		sc, err := a.synth.ForOperation(cmd.Op, cmd.Args, cmd.Destructive, cmd.Description)
		if err != nil {
			return failure("Эта операция недоступна.", task.ReasonCapabilityViolation)
		}
		return a.guardAndRun(ctx, turnID, msg, sc)
	}

	desc := a.inferencer.Infer(ctx, sessionID, utterance, model)
	a.trail.Record(ctx, hooks.AuditEntry{
		TurnID:     turnID,
		Event:      hooks.EventIntentInferred,
		SessionID:  sessionID,
		Action:     string(desc.Action),
		Confidence: desc.Confidence,
		Ok:         desc.Action != task.ActionUnknown,
	})

	if desc.Action == task.ActionUnknown {
		return a.handleUnknown(ctx, sessionID, utterance, model, desc)
	}

	sc, err := a.synth.Synthesize(desc)
	if err != nil {
		logger.WarnCF("agent", "synthesis failed", map[string]interface{}{
			"action": string(desc.Action),
			"error":  err.Error(),
		})
		return failure("Не смог составить план для этой команды.", task.ReasonCapabilityViolation)
	}
	if desc.Confidence < a.cfg.Agent.ConfidenceThreshold {
		// The classifier was unsure; hold the action for confirmation
		// instead of acting on a guess.
		sc.Destructive = true
	}
	return a.guardAndRun(ctx, turnID, msg, sc)
}

// guardAndRun applies the confirmation policy, then executes. Destructive
// scripts and scripts touching paths outside the whitelist are held for the
// user's yes/no.
func (a *Agent) guardAndRun(ctx context.Context, turnID string, msg bus.InboundMessage, sc *script.Script) bus.OutboundMessage {
	outside := a.outsidePath(sc)
	needsConfirmation := sc.Destructive || msg.ForceConfirm || outside != ""
	if needsConfirmation && a.autoConfirm(msg) && !msg.ForceConfirm {
		needsConfirmation = false
	}
	if needsConfirmation {
		a.setPending(msg.SessionID, &pendingAction{script: sc, created: time.Now()})
		a.trail.Record(ctx, hooks.AuditEntry{
			TurnID:    turnID,
			Event:     hooks.EventConfirmation,
			SessionID: msg.SessionID,
			Action:    string(sc.Action),
			Ok:        true,
		})
		question := fmt.Sprintf("Подтвердите: %s. Выполнить? (да/нет)", sc.Description)
		if outside != "" {
			question = fmt.Sprintf("Требуется подтверждение для пути: %s. Выполнить? (да/нет)", outside)
		}
		return bus.OutboundMessage{
			Response:             question,
			Ok:                   true,
			RequiresConfirmation: true,
		}
	}
	return a.execute(ctx, turnID, msg.SessionID, sc)
}

var pathArgKeys = []string{"path", "src", "dst"}

// outsidePath returns the first script argument pointing outside the
// whitelist, or "" when every path is confined.
func (a *Agent) outsidePath(sc *script.Script) string {
	if a.paths == nil {
		return ""
	}
	for _, step := range sc.Steps {
		for _, key := range pathArgKeys {
			if raw, ok := step.Args[key].(string); ok && raw != "" && !a.paths.Allowed(raw) {
				return raw
			}
		}
	}
	return ""
}

func (a *Agent) execute(ctx context.Context, turnID, sessionID string, sc *script.Script) bus.OutboundMessage {
	started := time.Now()
	result := a.executor.Run(ctx, sc)
	event := hooks.EventScriptExecuted
	if result.Reason() == task.ReasonCapabilityViolation {
		event = hooks.EventScriptRejected
	}
	a.trail.Record(ctx, hooks.AuditEntry{
		TurnID:     turnID,
		Event:      event,
		SessionID:  sessionID,
		Action:     string(sc.Action),
		Ok:         result.Ok,
		Reason:     result.Reason(),
		DurationMs: time.Since(started).Milliseconds(),
	})

	if !result.Ok {
		response := result.Stderr
		if response == "" {
			response = "Не получилось выполнить команду."
		}
		return failure(response, result.Reason())
	}

	// Context updates happen before the reply is emitted, so a follow-up
	// reference in the very next turn already resolves.
	if sc.StoreKind != "" {
		a.store.Put(sessionID, result.Results(), sc.StoreKind)
	}
	if opened, ok := result.Data["opened"].(string); ok && opened != "" {
		a.store.MarkOpened(sessionID, opened)
	}

	response := result.Stdout
	if response == "" {
		response = "Готово."
	}
	return bus.OutboundMessage{
		Response: response,
		Ok:       true,
		Items:    result.Results(),
		Data:     result.Data,
	}
}

func (a *Agent) handleControl(sessionID string, control intent.Control) bus.OutboundMessage {
	switch control.Kind {
	case "reset_context":
		a.store.Reset(sessionID)
		a.sessions.Clear(sessionID)
		a.clearPending(sessionID)
		return success("Контекст очищен.", nil)
	case "auto_confirm":
		enabled := control.Value == "on"
		if err := a.prefs.SetAutoConfirm(sessionID, enabled); err != nil {
			logger.WarnCF("agent", "prefs save failed", map[string]interface{}{"error": err.Error()})
		}
		if enabled {
			return success("Автоподтверждение включено.", nil)
		}
		return success("Автоподтверждение выключено.", nil)
	case "select_model":
		if err := a.prefs.SetModel(sessionID, control.Value); err != nil {
			logger.WarnCF("agent", "prefs save failed", map[string]interface{}{"error": err.Error()})
		}
		return success(fmt.Sprintf("Теперь использую модель %s.", control.Value), nil)
	}
	return failure("Неизвестная команда.", "unknown_control")
}

func (a *Agent) handleUnknown(ctx context.Context, sessionID, utterance, model string, desc task.Descriptor) bus.OutboundMessage {
	reason, _ := desc.Params["reason"].(string)
	message, _ := desc.Params["message"].(string)

	switch reason {
	case task.ReasonInferenceUnavailable:
		return failure(message, reason)
	case task.ReasonAmbiguousReference:
		out := success(message, nil)
		out.Data = map[string]interface{}{"reason": reason}
		return out
	}

	if looksLikeQuestion(utterance) {
		if answer, err := a.answerQuestion(ctx, sessionID, utterance, model); err == nil {
			out := success(answer, nil)
			out.Data = map[string]interface{}{"intent": "qa"}
			return out
		}
	}
	if message == "" {
		message = "Не понял команду, сформулируйте иначе."
	}
	out := success(message, nil)
	out.Data = map[string]interface{}{"intent": "clarify"}
	return out
}

// answerQuestion is the QA fallback: free-form chat over the session
// history for utterances that are questions, not commands.
func (a *Agent) answerQuestion(ctx context.Context, sessionID, utterance, model string) (string, error) {
	messages := []providers.Message{{
		Role: "system",
		Content: "Ты — локальный десктопный ассистент. Отвечай кратко и по-русски, " +
			"если пользователь не просит иначе.",
	}}
	messages = append(messages, a.sessions.GetHistory(sessionID)...)
	messages = append(messages, providers.Message{Role: "user", Content: utterance})
	return a.provider.Chat(ctx, messages, model)
}

// desktopShortcut maps "покажи рабочий стол" onto opening the desktop
// directory directly.
func (a *Agent) desktopShortcut(utterance string) (*script.Script, bool) {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	switch normalized {
	case "покажи рабочий стол", "открой рабочий стол", "рабочий стол", "show desktop", "open desktop":
	default:
		return nil, false
	}
	desktop := a.desktopDir()
	if desktop == "" {
		return nil, false
	}
	sc, err := a.synth.ForOperation("open_path",
		map[string]interface{}{"path": desktop}, false, "открытие рабочего стола")
	if err != nil {
		return nil, false
	}
	return sc, true
}

func (a *Agent) desktopDir() string {
	for _, root := range a.cfg.Paths.Whitelist {
		if strings.EqualFold(filepath.Base(root), "Desktop") {
			return root
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Desktop")
	}
	return ""
}

func (a *Agent) resolveModel(msg bus.InboundMessage) string {
	if msg.Model != "" {
		return msg.Model
	}
	if prefs := a.prefs.Get(msg.SessionID); prefs.Model != "" {
		return prefs.Model
	}
	return a.cfg.Agent.Model
}

func (a *Agent) autoConfirm(msg bus.InboundMessage) bool {
	if msg.AutoConfirm != nil {
		return *msg.AutoConfirm
	}
	if prefs := a.prefs.Get(msg.SessionID); prefs.AutoConfirm != nil {
		return *prefs.AutoConfirm
	}
	return a.cfg.Agent.AutoConfirm
}

func (a *Agent) rememberTurn(sessionID, utterance, response string) {
	a.sessions.AddMessage(sessionID, "user", utterance)
	a.sessions.AddMessage(sessionID, "assistant", response)
	a.sessions.TruncateHistory(sessionID, historyKeep)
	if err := a.sessions.Save(sessionID); err != nil {
		logger.DebugCF("agent", "session save failed", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}

func (a *Agent) sessionLock(sessionID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[sessionID] = lock
	}
	return lock
}

func (a *Agent) takePending(sessionID string) *pendingAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := a.pendings[sessionID]
	delete(a.pendings, sessionID)
	return pending
}

func (a *Agent) setPending(sessionID string, pending *pendingAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendings[sessionID] = pending
}

func (a *Agent) clearPending(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pendings, sessionID)
}

var affirmations = map[string]bool{
	"да": true, "ага": true, "давай": true, "конечно": true,
	"подтверждаю": true, "выполняй": true, "yes": true, "y": true, "ok": true, "ок": true,
}

var refusals = map[string]bool{
	"нет": true, "не": true, "отмена": true, "отменить": true,
	"не надо": true, "no": true, "n": true, "cancel": true, "стоп": true,
}

func isAffirmation(utterance string) bool {
	return affirmations[strings.ToLower(strings.TrimSpace(utterance))]
}

func isRefusal(utterance string) bool {
	return refusals[strings.ToLower(strings.TrimSpace(utterance))]
}

var desktopPathPhrases = []string{
	"напиши путь до рабочего стола",
	"где рабочий стол",
	"путь до рабочего стола",
	"путь к рабочему столу",
	"where is the desktop",
}

func isDesktopPathQuestion(normalized string) bool {
	normalized = strings.TrimRight(strings.TrimSpace(normalized), "?")
	for _, phrase := range desktopPathPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

var questionLeads = []string{
	"что", "кто", "как", "почему", "зачем", "когда", "где", "сколько",
	"какой", "какая", "какие", "расскажи", "объясни",
	"what", "who", "how", "why", "when", "where", "explain",
}

func looksLikeQuestion(utterance string) bool {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if strings.HasSuffix(normalized, "?") {
		return true
	}
	first := normalized
	if idx := strings.IndexAny(normalized, " \t"); idx > 0 {
		first = normalized[:idx]
	}
	for _, lead := range questionLeads {
		if first == lead {
			return true
		}
	}
	return false
}

func success(response string, items []string) bus.OutboundMessage {
	return bus.OutboundMessage{Response: response, Ok: true, Items: items}
}

func failure(response, reason string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Response: response,
		Ok:       false,
		Data:     map[string]interface{}{"reason": reason},
	}
}
