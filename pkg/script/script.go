// Package script turns task descriptors into action scripts: short, typed
// step sequences over registered capability operations. Synthesis is
// deterministic template instantiation, never free-form code generation, so
// the sandbox can validate every step statically before anything runs.
package script

import (
	"fmt"

	"deskmate/pkg/capability"
	"deskmate/pkg/contextbuf"
	"deskmate/pkg/task"
)

type StepKind string

const (
	// StepInvoke calls a registered operation with literal arguments.
	StepInvoke StepKind = "invoke"
	// StepOpenFirst calls Op with the first result produced by the
	// preceding step. ArgKey names the parameter that receives it.
	StepOpenFirst StepKind = "open_first"
)

type Step struct {
	Kind   StepKind
	Op     string
	Args   map[string]interface{}
	ArgKey string
}

// Script is an ordered plan for one turn. StoreKind, when non-empty, tells
// the orchestrator to publish the produced result list into the session
// context buffer after a successful run.
type Script struct {
	Action      task.ActionKind
	Steps       []Step
	Destructive bool
	Description string
	StoreKind   contextbuf.ResultKind
}

// Synthesizer instantiates scripts from descriptors. It consults the
// capability registry only to drop undeclared arguments and to flag
// destructive operations; it never invents operations.
type Synthesizer struct {
	registry *capability.Registry
}

func NewSynthesizer(registry *capability.Registry) *Synthesizer {
	return &Synthesizer{registry: registry}
}

// Synthesize builds the script for a descriptor. Unknown or unmapped
// actions return an error; the caller degrades the turn to a clarification.
func (s *Synthesizer) Synthesize(desc task.Descriptor) (*Script, error) {
	switch desc.Action {
	case task.ActionOpenApp:
		return s.singleStep(desc, "app_open", "запуск приложения")
	case task.ActionCloseApp:
		return s.singleStep(desc, "app_close", "закрытие приложения")
	case task.ActionOpenPath:
		return s.singleStep(desc, "open_path", "открытие файла")
	case task.ActionSearchLocal:
		return s.searchScript(desc, "fs_search", "open_path", "path", contextbuf.KindFile, "поиск файлов")
	case task.ActionSearchWeb:
		return s.searchScript(desc, "web_search", "web_open", "url", contextbuf.KindWeb, "поиск в интернете")
	case task.ActionOpenIndexedResult:
		return s.indexedOpen(desc)
	case task.ActionResetContext:
		// Context reset is handled by the orchestrator directly and never
		// reaches synthesis.
		return nil, fmt.Errorf("action %s has no script form", desc.Action)
	default:
		return nil, fmt.Errorf("no script template for action %s", desc.Action)
	}
}

// ForOperation wraps a single pre-resolved operation call, used by the
// literal file-command layer where the operation and arguments are already
// known.
func (s *Synthesizer) ForOperation(op string, args map[string]interface{}, destructive bool, description string) (*Script, error) {
	if !s.registry.Has(op) {
		return nil, fmt.Errorf("operation %s is not registered", op)
	}
	return &Script{
		Action:      task.ActionFileOp,
		Steps:       []Step{{Kind: StepInvoke, Op: op, Args: s.registry.FilterArgs(op, args)}},
		Destructive: destructive || s.registry.IsDestructive(op),
		Description: description,
	}, nil
}

func (s *Synthesizer) singleStep(desc task.Descriptor, op, description string) (*Script, error) {
	if !s.registry.Has(op) {
		return nil, fmt.Errorf("operation %s is not registered", op)
	}
	return &Script{
		Action:      desc.Action,
		Steps:       []Step{{Kind: StepInvoke, Op: op, Args: s.registry.FilterArgs(op, desc.Params)}},
		Destructive: s.registry.IsDestructive(op),
		Description: description,
	}, nil
}

func (s *Synthesizer) searchScript(desc task.Descriptor, searchOp, openOp, argKey string, kind contextbuf.ResultKind, description string) (*Script, error) {
	if !s.registry.Has(searchOp) {
		return nil, fmt.Errorf("operation %s is not registered", searchOp)
	}
	script := &Script{
		Action:      desc.Action,
		Steps:       []Step{{Kind: StepInvoke, Op: searchOp, Args: s.registry.FilterArgs(searchOp, desc.Params)}},
		Description: description,
		StoreKind:   kind,
	}
	if openFirst, _ := desc.Params["open_first"].(bool); openFirst {
		if !s.registry.Has(openOp) {
			return nil, fmt.Errorf("operation %s is not registered", openOp)
		}
		script.Steps = append(script.Steps, Step{Kind: StepOpenFirst, Op: openOp, ArgKey: argKey})
	}
	return script, nil
}

func (s *Synthesizer) indexedOpen(desc task.Descriptor) (*Script, error) {
	target, _ := desc.Params["target"].(string)
	if target == "" {
		return nil, fmt.Errorf("indexed open without target")
	}
	op, argKey := "open_path", "path"
	if kind, _ := desc.Params["kind"].(string); kind == string(contextbuf.KindWeb) {
		op, argKey = "web_open", "url"
	}
	if !s.registry.Has(op) {
		return nil, fmt.Errorf("operation %s is not registered", op)
	}
	return &Script{
		Action:      desc.Action,
		Steps:       []Step{{Kind: StepInvoke, Op: op, Args: map[string]interface{}{argKey: target}}},
		Description: "открытие результата из контекста",
	}, nil
}
