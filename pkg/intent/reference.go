package intent

import (
	"regexp"
	"strconv"
	"strings"

	"deskmate/pkg/contextbuf"
)

var (
	reOpenIndex = regexp.MustCompile(`(?i)^(?:открой|покажи|open|show)\s+(?:ссылку\s+|файл\s+|результат\s+|link\s+|file\s+|result\s+|the\s+)?` +
		`(\d+|первый|первую|второй|вторую|третий|третью|четвертый|четвертую|последний|последнюю|first|second|third|fourth|last)(?:\s+one)?\s*$`)
	reOpenPronoun = regexp.MustCompile(`(?i)^(?:открой|покажи|open)\s+(?:его|её|ее|этот|это|it)(?:\s+пожалуйста)?\s*$`)
)

var ordinalWords = map[string]int{
	"первый": 1, "первую": 1, "first": 1,
	"второй": 2, "вторую": 2, "second": 2,
	"третий": 3, "третью": 3, "third": 3,
	"четвертый": 4, "четвертую": 4, "fourth": 4,
}

// ParseReference recognizes reference expressions ("открой 2", "open the
// second one", "открой его") and maps them onto a context-buffer reference.
func ParseReference(utterance string) (contextbuf.Reference, bool) {
	normalized := strings.TrimSpace(utterance)
	if reOpenPronoun.MatchString(normalized) {
		return contextbuf.Reference{Kind: "it"}, true
	}

	match := reOpenIndex.FindStringSubmatch(normalized)
	if match == nil {
		return contextbuf.Reference{}, false
	}

	raw := strings.ToLower(match[1])
	if raw == "последний" || raw == "последнюю" || raw == "last" {
		return contextbuf.Reference{Kind: "last"}, true
	}
	if ordinal, ok := ordinalWords[raw]; ok {
		return contextbuf.Reference{Ordinal: ordinal}, true
	}
	if ordinal, err := strconv.Atoi(raw); err == nil {
		return contextbuf.Reference{Ordinal: ordinal}, true
	}
	return contextbuf.Reference{}, false
}

// Control is a session-scoped command recognized literally, never routed
// through intent inference.
type Control struct {
	Kind  string // "reset_context", "auto_confirm", "select_model"
	Value string // "on"/"off" for auto_confirm, model name for select_model
}

var (
	reResetContext = regexp.MustCompile(`(?i)^(?:сбрось\s+контекст|очисти\s+память|reset\s+context)\s*$`)
	reAutoConfirm  = regexp.MustCompile(`(?i)^(?:авто[- ]?подтверждение|auto[- ]?confirm)\s+(on|off|вкл|выкл)\s*$`)
	reSelectModel  = regexp.MustCompile(`(?i)^(?:модель|model)\s+([\w.:\-]+)\s*$`)
)

// ParseControl recognizes the fixed control vocabulary.
func ParseControl(utterance string) (Control, bool) {
	normalized := strings.TrimSpace(utterance)
	if reResetContext.MatchString(normalized) {
		return Control{Kind: "reset_context"}, true
	}
	if match := reAutoConfirm.FindStringSubmatch(normalized); match != nil {
		value := strings.ToLower(match[1])
		if value == "вкл" {
			value = "on"
		}
		if value == "выкл" {
			value = "off"
		}
		return Control{Kind: "auto_confirm", Value: value}, true
	}
	if match := reSelectModel.FindStringSubmatch(normalized); match != nil {
		return Control{Kind: "select_model", Value: match[1]}, true
	}
	return Control{}, false
}

// FileCommand is a literal file-operation utterance handled ahead of
// inference. Op names a registered capability operation.
type FileCommand struct {
	Op          string
	Args        map[string]interface{}
	Destructive bool
	Description string
}

var (
	reCreateFile = regexp.MustCompile(`(?is)^(?:создай|создать|create)\s+(?:файл|file)\s+(.+)$`)
	reWriteFile  = regexp.MustCompile(`(?is)^(?:запиши|записать|write)\s+(?:в|to)\s+(.+?)\s*[:：]\s*(.+)$`)
	reAppendFile = regexp.MustCompile(`(?is)^(?:добавь|добавить|append)\s+(?:к|to)\s+(.+?)\s*[:：]\s*(.+)$`)
	reReadFile   = regexp.MustCompile(`(?i)^(?:прочитай|прочитать|read)\s+(?:файл|file)\s+(.+)$`)
	reOpenPath   = regexp.MustCompile(`(?i)^(?:открой|открыть|open)\s+(?:файл|папку|file|folder)?\s*(.+)$`)
	reMovePath   = regexp.MustCompile(`(?i)^(?:перемести|переместить|move)\s+(.+?)\s+(?:в|to)\s+(.+)$`)
	reCopyPath   = regexp.MustCompile(`(?i)^(?:скопируй|скопировать|copy)\s+(.+?)\s+(?:в|to)\s+(.+)$`)
	reDeletePath = regexp.MustCompile(`(?i)^(?:удали|удалить|delete)\s+(?:файл|папку|file|folder)?\s*(.+)$`)
	reListDir    = regexp.MustCompile(`(?i)^(?:покажи|список|list)\s+(?:каталог|папку|directory|folder)\s+(.+)$`)
)

func cleanPath(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"`)
}

// looksLikePath filters the open-command so that "открой браузер" falls
// through to inference instead of being treated as a filesystem path.
func looksLikePath(s string) bool {
	if strings.ContainsAny(s, `/\`) {
		return true
	}
	if strings.HasPrefix(s, "~") || strings.HasPrefix(s, ".") {
		return true
	}
	if len(s) > 2 && s[1] == ':' {
		return true
	}
	// A single token with an extension ("notes.txt") is a path too.
	if !strings.Contains(s, " ") && strings.Contains(s, ".") {
		return true
	}
	return false
}

// ParseFileCommand recognizes literal file-operation commands.
func ParseFileCommand(utterance string) (FileCommand, bool) {
	normalized := strings.TrimSpace(utterance)

	if match := reCreateFile.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_create",
			Args:        map[string]interface{}{"path": path},
			Description: "создание файла " + path,
		}, true
	}
	if match := reWriteFile.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_write",
			Args:        map[string]interface{}{"path": path, "content": match[2]},
			Destructive: true,
			Description: "запись в файл " + path,
		}, true
	}
	if match := reAppendFile.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_append",
			Args:        map[string]interface{}{"path": path, "content": match[2]},
			Description: "добавление в файл " + path,
		}, true
	}
	if match := reReadFile.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_read",
			Args:        map[string]interface{}{"path": path},
			Description: "чтение файла " + path,
		}, true
	}
	if match := reMovePath.FindStringSubmatch(normalized); match != nil {
		src, dst := cleanPath(match[1]), cleanPath(match[2])
		return FileCommand{
			Op:          "fs_move",
			Args:        map[string]interface{}{"src": src, "dst": dst},
			Destructive: true,
			Description: "перемещение " + src + " в " + dst,
		}, true
	}
	if match := reCopyPath.FindStringSubmatch(normalized); match != nil {
		src, dst := cleanPath(match[1]), cleanPath(match[2])
		return FileCommand{
			Op:          "fs_copy",
			Args:        map[string]interface{}{"src": src, "dst": dst},
			Description: "копирование " + src + " в " + dst,
		}, true
	}
	if match := reDeletePath.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_delete",
			Args:        map[string]interface{}{"path": path},
			Destructive: true,
			Description: "удаление " + path,
		}, true
	}
	if match := reListDir.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		return FileCommand{
			Op:          "fs_list",
			Args:        map[string]interface{}{"path": path},
			Description: "просмотр каталога " + path,
		}, true
	}
	if match := reOpenPath.FindStringSubmatch(normalized); match != nil {
		path := cleanPath(match[1])
		if looksLikePath(path) {
			return FileCommand{
				Op:          "open_path",
				Args:        map[string]interface{}{"path": path},
				Description: "открытие " + path,
			}, true
		}
	}
	return FileCommand{}, false
}
