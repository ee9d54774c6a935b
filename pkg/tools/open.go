package tools

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"deskmate/pkg/task"
)

// systemOpener launches the default handler for a file or URL. Overridable
// in tests so nothing actually opens.
type systemOpener func(ctx context.Context, target string) error

func defaultOpener(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", "", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	return cmd.Start()
}

// OpenPathOp opens a whitelisted file or directory with its default
// application.
type OpenPathOp struct {
	policy *PathPolicy
	opener systemOpener
}

func NewOpenPathOp(policy *PathPolicy) *OpenPathOp {
	return &OpenPathOp{policy: policy, opener: defaultOpener}
}

// SetOpener replaces the system opener. Test hook.
func (t *OpenPathOp) SetOpener(opener systemOpener) { t.opener = opener }

func (t *OpenPathOp) Name() string        { return "open_path" }
func (t *OpenPathOp) Description() string { return "Открыть файл или папку" }

func (t *OpenPathOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к открываемому файлу или папке",
			},
		},
		"required": []string{"path"},
	}
}

func (t *OpenPathOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if err := t.opener(ctx, resolved); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось открыть %s: %v", resolved, err))
	}
	return task.OkResult(fmt.Sprintf("Открыл %s", resolved)).WithData("opened", resolved)
}
