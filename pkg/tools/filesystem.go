package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deskmate/pkg/task"
)

// CreateFileOp creates an empty file (parents included). Creating over an
// existing file is refused; that is what fs_write is for.
type CreateFileOp struct {
	policy *PathPolicy
}

func NewCreateFileOp(policy *PathPolicy) *CreateFileOp {
	return &CreateFileOp{policy: policy}
}

func (t *CreateFileOp) Name() string        { return "fs_create" }
func (t *CreateFileOp) Description() string { return "Создать пустой файл" }

func (t *CreateFileOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к создаваемому файлу",
			},
		},
		"required": []string{"path"},
	}
}

func (t *CreateFileOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if _, err := os.Stat(resolved); err == nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("файл %s уже существует", path))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать каталог: %v", err))
	}
	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать файл: %v", err))
	}
	f.Close()
	return task.OkResult(fmt.Sprintf("Создал файл %s", resolved)).WithData("path", resolved)
}

// WriteFileOp overwrites a file with new content.
type WriteFileOp struct {
	policy *PathPolicy
}

func NewWriteFileOp(policy *PathPolicy) *WriteFileOp {
	return &WriteFileOp{policy: policy}
}

func (t *WriteFileOp) Name() string        { return "fs_write" }
func (t *WriteFileOp) Description() string { return "Записать содержимое в файл" }
func (t *WriteFileOp) Destructive() bool   { return true }

func (t *WriteFileOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к файлу",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Новое содержимое файла",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	content, ok := args["content"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указано содержимое")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать каталог: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось записать файл: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Записал %d байт в %s", len(content), resolved)).
		WithData("path", resolved)
}

// AppendFileOp appends content, creating the file if absent.
type AppendFileOp struct {
	policy *PathPolicy
}

func NewAppendFileOp(policy *PathPolicy) *AppendFileOp {
	return &AppendFileOp{policy: policy}
}

func (t *AppendFileOp) Name() string        { return "fs_append" }
func (t *AppendFileOp) Description() string { return "Дописать содержимое в конец файла" }

func (t *AppendFileOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к файлу",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Добавляемый текст",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *AppendFileOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	content, ok := args["content"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указано содержимое")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось открыть файл: %v", err))
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось дописать: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Дописал %d байт в %s", len(content), resolved)).
		WithData("path", resolved)
}

// ReadFileOp returns a file's content, capped so huge files do not blow the
// output budget before the sandbox even sees them.
type ReadFileOp struct {
	policy   *PathPolicy
	maxBytes int64
}

func NewReadFileOp(policy *PathPolicy, maxBytes int64) *ReadFileOp {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	return &ReadFileOp{policy: policy, maxBytes: maxBytes}
}

func (t *ReadFileOp) Name() string        { return "fs_read" }
func (t *ReadFileOp) Description() string { return "Прочитать содержимое файла" }

func (t *ReadFileOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к файлу",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	f, err := os.Open(resolved)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось открыть файл: %v", err))
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, t.maxBytes))
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось прочитать файл: %v", err))
	}
	return task.OkResult(string(content)).WithData("path", resolved)
}

// DeleteOp removes a file or an empty directory.
type DeleteOp struct {
	policy *PathPolicy
}

func NewDeleteOp(policy *PathPolicy) *DeleteOp {
	return &DeleteOp{policy: policy}
}

func (t *DeleteOp) Name() string        { return "fs_delete" }
func (t *DeleteOp) Description() string { return "Удалить файл или пустую папку" }
func (t *DeleteOp) Destructive() bool   { return true }

func (t *DeleteOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к удаляемому файлу или папке",
			},
		},
		"required": []string{"path"},
	}
}

func (t *DeleteOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if err := os.Remove(resolved); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось удалить: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Удалил %s", resolved)).WithData("path", resolved)
}

// MoveOp renames a file within the whitelist.
type MoveOp struct {
	policy *PathPolicy
}

func NewMoveOp(policy *PathPolicy) *MoveOp {
	return &MoveOp{policy: policy}
}

func (t *MoveOp) Name() string        { return "fs_move" }
func (t *MoveOp) Description() string { return "Переместить файл" }
func (t *MoveOp) Destructive() bool   { return true }

func (t *MoveOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"src": map[string]interface{}{
				"type":        "string",
				"description": "Откуда",
			},
			"dst": map[string]interface{}{
				"type":        "string",
				"description": "Куда",
			},
		},
		"required": []string{"src", "dst"},
	}
}

func (t *MoveOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	src, srcOk := args["src"].(string)
	dst, dstOk := args["dst"].(string)
	if !srcOk || !dstOk {
		return task.ErrorResult(task.ReasonOperationFailure, "нужны пути откуда и куда")
	}
	resolvedSrc, err := t.policy.Resolve(src)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	resolvedDst, err := t.policy.Resolve(dst)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if info, err := os.Stat(resolvedDst); err == nil && info.IsDir() {
		resolvedDst = filepath.Join(resolvedDst, filepath.Base(resolvedSrc))
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0755); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать каталог: %v", err))
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось переместить: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Переместил %s в %s", resolvedSrc, resolvedDst)).
		WithData("path", resolvedDst)
}

// CopyOp copies a single file.
type CopyOp struct {
	policy *PathPolicy
}

func NewCopyOp(policy *PathPolicy) *CopyOp {
	return &CopyOp{policy: policy}
}

func (t *CopyOp) Name() string        { return "fs_copy" }
func (t *CopyOp) Description() string { return "Скопировать файл" }

func (t *CopyOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"src": map[string]interface{}{
				"type":        "string",
				"description": "Откуда",
			},
			"dst": map[string]interface{}{
				"type":        "string",
				"description": "Куда",
			},
		},
		"required": []string{"src", "dst"},
	}
}

func (t *CopyOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	src, srcOk := args["src"].(string)
	dst, dstOk := args["dst"].(string)
	if !srcOk || !dstOk {
		return task.ErrorResult(task.ReasonOperationFailure, "нужны пути откуда и куда")
	}
	resolvedSrc, err := t.policy.Resolve(src)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	resolvedDst, err := t.policy.Resolve(dst)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	if info, err := os.Stat(resolvedDst); err == nil && info.IsDir() {
		resolvedDst = filepath.Join(resolvedDst, filepath.Base(resolvedSrc))
	}

	in, err := os.Open(resolvedSrc)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось открыть источник: %v", err))
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0755); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать каталог: %v", err))
	}
	out, err := os.Create(resolvedDst)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось создать копию: %v", err))
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось скопировать: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Скопировал %s в %s", resolvedSrc, resolvedDst)).
		WithData("path", resolvedDst)
}

// ListDirOp lists directory entries, directories first, names sorted.
type ListDirOp struct {
	policy *PathPolicy
}

func NewListDirOp(policy *PathPolicy) *ListDirOp {
	return &ListDirOp{policy: policy}
}

func (t *ListDirOp) Name() string        { return "fs_list" }
func (t *ListDirOp) Description() string { return "Показать содержимое каталога" }

func (t *ListDirOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к каталогу",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	path, ok := args["path"].(string)
	if !ok {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан путь")
	}
	resolved, err := t.policy.Resolve(path)
	if err != nil {
		return task.ErrorResult(task.ReasonCapabilityViolation, err.Error())
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось прочитать каталог: %v", err))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	lines := make([]string, 0, len(entries))
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(os.PathSeparator)
		}
		lines = append(lines, name)
		paths = append(paths, filepath.Join(resolved, entry.Name()))
	}
	summary := fmt.Sprintf("В каталоге %s %d элементов", resolved, len(entries))
	if len(lines) > 0 {
		summary += ":\n" + strings.Join(lines, "\n")
	}
	return task.OkResult(summary).WithData("results", paths)
}
