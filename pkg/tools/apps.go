package tools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"

	"deskmate/pkg/config"
	"deskmate/pkg/task"
)

// platformCommands supply launch commands for the built-in application keys
// when the config does not override them.
var platformCommands = map[string]map[string][]string{
	"linux": {
		"calculator": {"gnome-calculator"},
		"editor":     {"gedit"},
		"browser":    {"xdg-open", "about:blank"},
		"files":      {"nautilus"},
	},
	"darwin": {
		"calculator": {"open", "-a", "Calculator"},
		"editor":     {"open", "-a", "TextEdit"},
		"browser":    {"open", "-a", "Safari"},
		"files":      {"open", "-a", "Finder"},
	},
	"windows": {
		"calculator": {"calc.exe"},
		"editor":     {"notepad.exe"},
		"browser":    {"cmd", "/c", "start", "", "about:blank"},
		"files":      {"explorer.exe"},
	},
}

func launchCommand(key string, app config.AppConfig) ([]string, error) {
	if app.Command != "" {
		return append([]string{app.Command}, app.Args...), nil
	}
	if commands, ok := platformCommands[runtime.GOOS]; ok {
		if argv, ok := commands[key]; ok {
			return argv, nil
		}
	}
	return nil, fmt.Errorf("для приложения %q не настроена команда запуска", key)
}

func processName(key string, app config.AppConfig) string {
	if app.Process != "" {
		return app.Process
	}
	if app.Command != "" {
		return filepath.Base(app.Command)
	}
	if commands, ok := platformCommands[runtime.GOOS]; ok {
		if argv, ok := commands[key]; ok && len(argv) > 0 {
			return filepath.Base(argv[0])
		}
	}
	return key
}

type runner func(ctx context.Context, argv []string) error

func startDetached(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return cmd.Start()
}

func runAndWait(ctx context.Context, argv []string) error {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

// AppOpenOp launches a configured application by key.
type AppOpenOp struct {
	apps map[string]config.AppConfig
	run  runner
}

func NewAppOpenOp(apps map[string]config.AppConfig) *AppOpenOp {
	return &AppOpenOp{apps: apps, run: startDetached}
}

// SetRunner replaces process launching. Test hook.
func (t *AppOpenOp) SetRunner(run runner) { t.run = run }

func (t *AppOpenOp) Name() string        { return "app_open" }
func (t *AppOpenOp) Description() string { return "Запустить приложение" }

func (t *AppOpenOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"app": map[string]interface{}{
				"type":        "string",
				"description": "Ключ приложения из конфигурации",
			},
		},
		"required": []string{"app"},
	}
}

func (t *AppOpenOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	key, ok := args["app"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указано приложение")
	}
	app, known := t.apps[key]
	if !known {
		return task.ErrorResult(task.ReasonCapabilityViolation,
			fmt.Sprintf("приложение %q не входит в список разрешённых", key))
	}
	argv, err := launchCommand(key, app)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure, err.Error())
	}
	if err := t.run(ctx, argv); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось запустить %s: %v", key, err))
	}
	return task.OkResult(fmt.Sprintf("Запустил %s", key)).WithData("app", key)
}

// AppCloseOp terminates a configured application by process name. Closing
// is destructive: unsaved work may be lost.
type AppCloseOp struct {
	apps map[string]config.AppConfig
	run  runner
}

func NewAppCloseOp(apps map[string]config.AppConfig) *AppCloseOp {
	return &AppCloseOp{apps: apps, run: runAndWait}
}

// SetRunner replaces process termination. Test hook.
func (t *AppCloseOp) SetRunner(run runner) { t.run = run }

func (t *AppCloseOp) Name() string        { return "app_close" }
func (t *AppCloseOp) Description() string { return "Закрыть приложение" }
func (t *AppCloseOp) Destructive() bool   { return true }

func (t *AppCloseOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"app": map[string]interface{}{
				"type":        "string",
				"description": "Ключ приложения из конфигурации",
			},
		},
		"required": []string{"app"},
	}
}

func (t *AppCloseOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	key, ok := args["app"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указано приложение")
	}
	app, known := t.apps[key]
	if !known {
		return task.ErrorResult(task.ReasonCapabilityViolation,
			fmt.Sprintf("приложение %q не входит в список разрешённых", key))
	}

	process := processName(key, app)
	var argv []string
	if runtime.GOOS == "windows" {
		argv = []string{"taskkill", "/IM", process, "/F"}
	} else {
		argv = []string{"pkill", "-f", process}
	}
	if err := t.run(ctx, argv); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось закрыть %s: возможно, оно не запущено", key))
	}
	return task.OkResult(fmt.Sprintf("Закрыл %s", key)).WithData("app", key)
}
