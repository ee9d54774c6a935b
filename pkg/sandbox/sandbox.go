// Package sandbox executes action scripts under hard resource bounds: every
// step is validated against the capability registry before anything runs,
// execution is cut off at a wall-clock deadline even if an operation ignores
// its context, and combined output is capped at a byte budget.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"deskmate/pkg/capability"
	"deskmate/pkg/config"
	"deskmate/pkg/logger"
	"deskmate/pkg/script"
	"deskmate/pkg/task"
)

const truncationMarker = "\n... [вывод обрезан]"

type Executor struct {
	registry    *capability.Registry
	timeout     time.Duration
	outputLimit int
}

func NewExecutor(registry *capability.Registry, cfg config.SandboxConfig) *Executor {
	return &Executor{
		registry:    registry,
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimit,
	}
}

// Run validates and executes a script. Validation failures reject the whole
// script before any step has run; execution failures stop at the failing
// step. The returned result is never nil.
func (e *Executor) Run(ctx context.Context, sc *script.Script) *task.Result {
	if err := e.validate(sc); err != nil {
		logger.WarnCF("sandbox", "script rejected", map[string]interface{}{
			"error": err.Error(),
		})
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan *task.Result, 1)
	go func() {
		done <- e.runSteps(runCtx, sc)
	}()

	select {
	case result := <-done:
		return result
	case <-runCtx.Done():
		logger.WarnCF("sandbox", "script deadline exceeded", map[string]interface{}{
			"timeout": e.timeout.String(),
		})
		return task.ErrorResult(task.ReasonExecutionTimeout,
			fmt.Sprintf("действие не уложилось в %s и было прервано", e.timeout))
	}
}

// validate checks the whole script against the registry. A script with any
// invalid step is rejected wholesale so partial effects cannot occur.
func (e *Executor) validate(sc *script.Script) error {
	if sc == nil || len(sc.Steps) == 0 {
		return fmt.Errorf("пустой сценарий")
	}
	for i, step := range sc.Steps {
		if !e.registry.Has(step.Op) {
			return fmt.Errorf("шаг %d: операция %q не разрешена", i+1, step.Op)
		}
		declared := e.registry.DeclaredParams(step.Op)
		for arg := range step.Args {
			if !declared[arg] {
				return fmt.Errorf("шаг %d: аргумент %q не объявлен операцией %q", i+1, arg, step.Op)
			}
		}
		switch step.Kind {
		case script.StepInvoke:
			for _, required := range e.registry.RequiredParams(step.Op) {
				if _, present := step.Args[required]; !present {
					return fmt.Errorf("шаг %d: не хватает аргумента %q", i+1, required)
				}
			}
		case script.StepOpenFirst:
			if i == 0 {
				return fmt.Errorf("шаг %d: открытие первого результата без предыдущего шага", i+1)
			}
			if step.ArgKey == "" || !declared[step.ArgKey] {
				return fmt.Errorf("шаг %d: недопустимый аргумент %q", i+1, step.ArgKey)
			}
		default:
			return fmt.Errorf("шаг %d: неизвестный вид шага %q", i+1, step.Kind)
		}
	}
	return nil
}

func (e *Executor) runSteps(ctx context.Context, sc *script.Script) (result *task.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("sandbox", "operation panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			result = task.ErrorResult(task.ReasonOperationFailure,
				"внутренняя ошибка при выполнении действия")
		}
	}()

	var output strings.Builder
	// budget counts stdout and stderr together, so a chatty stderr cannot
	// sidestep the output cap.
	budget := 0
	final := task.OkResult("")

	var prev *task.Result
	for _, step := range sc.Steps {
		args := step.Args
		if step.Kind == script.StepOpenFirst {
			results := prev.Results()
			if len(results) == 0 {
				// Nothing to open; the search outcome alone is the answer.
				break
			}
			args = map[string]interface{}{step.ArgKey: results[0]}
		}

		op, _ := e.registry.Get(step.Op)
		started := time.Now()
		stepResult := op.Execute(ctx, args)
		logger.DebugCF("sandbox", "step executed", map[string]interface{}{
			"op":       step.Op,
			"ok":       stepResult.Ok,
			"duration": time.Since(started).String(),
		})

		if !stepResult.Ok {
			if stepResult.Reason() == "" {
				stepResult.WithData("reason", task.ReasonOperationFailure)
			}
			return stepResult
		}

		if stepResult.Stdout != "" {
			if output.Len() > 0 {
				output.WriteString("\n")
			}
			output.WriteString(stepResult.Stdout)
		}
		budget += len(stepResult.Stdout) + len(stepResult.Stderr)
		if budget > e.outputLimit {
			truncated := truncateUTF8(output.String(), e.outputLimit) + truncationMarker
			return task.ErrorResult(task.ReasonOutputOverflow,
				"вывод действия превысил допустимый размер").
				WithData("truncated_output", truncated)
		}

		for key, value := range stepResult.Data {
			final.Data[key] = value
		}
		if step.Kind == script.StepOpenFirst {
			final.Data["opened"] = args[step.ArgKey]
		}
		prev = stepResult
	}

	final.Stdout = output.String()
	return final
}

// truncateUTF8 cuts s at no more than limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if limit >= len(s) {
		return s
	}
	if limit < 0 {
		limit = 0
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
