package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"deskmate/pkg/task"
)

// LocalSearchOp walks the whitelist roots and ranks files by how well the
// name matches the query. Hidden entries are skipped.
type LocalSearchOp struct {
	policy     *PathPolicy
	maxResults int
}

func NewLocalSearchOp(policy *PathPolicy, maxResults int) *LocalSearchOp {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &LocalSearchOp{policy: policy, maxResults: maxResults}
}

func (t *LocalSearchOp) Name() string        { return "fs_search" }
func (t *LocalSearchOp) Description() string { return "Найти файлы по имени" }

func (t *LocalSearchOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Слова для поиска в именах файлов",
			},
			"extensions": map[string]interface{}{
				"type":        "array",
				"description": "Ограничение по расширениям, например [\".pdf\"]",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"query"},
	}
}

type scoredFile struct {
	path    string
	score   float64
	modTime time.Time
}

func (t *LocalSearchOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан поисковый запрос")
	}
	extensions := extensionFilter(args["extensions"])
	terms := strings.Fields(strings.ToLower(query))

	var found []scoredFile
	for _, root := range t.policy.Roots() {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !matchesExtension(name, extensions) {
				return nil
			}
			score := nameScore(strings.ToLower(name), terms)
			if score <= 0 {
				return nil
			}
			entry := scoredFile{path: path, score: score}
			if info, err := d.Info(); err == nil {
				entry.modTime = info.ModTime()
			}
			found = append(found, entry)
			return nil
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score > found[j].score
		}
		return found[i].modTime.After(found[j].modTime)
	})
	if len(found) > t.maxResults {
		found = found[:t.maxResults]
	}

	paths := make([]string, 0, len(found))
	for _, entry := range found {
		paths = append(paths, entry.path)
	}

	if len(paths) == 0 {
		return task.OkResult(fmt.Sprintf("По запросу %q ничего не нашлось", query)).
			WithData("results", paths)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Нашёл %d файлов по запросу %q:", len(paths), query)
	for i, path := range paths {
		fmt.Fprintf(&b, "\n%d. %s", i+1, path)
	}
	return task.OkResult(b.String()).WithData("results", paths)
}

// nameScore rates a file name against query terms. A name must account for
// every term, exactly or approximately, to score at all.
func nameScore(name string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	total := 0.0
	for _, term := range terms {
		switch {
		case strings.Contains(base, term):
			total += 1.0
		case approxContains(name, term):
			total += 0.6
		default:
			return 0
		}
	}
	score := total / float64(len(terms))
	if base == strings.Join(terms, " ") || base == strings.Join(terms, "_") {
		score += 0.2
	}
	return score
}

// approxContains tolerates small typos using a bitap search, within the
// library's 32-byte pattern limit.
func approxContains(text, pattern string) bool {
	if len(pattern) > 32 || len(pattern) > len(text) || len([]rune(pattern)) < 4 {
		return false
	}
	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = 0.25
	dmp.MatchDistance = 1000
	return dmp.MatchMain(text, pattern, 0) >= 0
}

func extensionFilter(raw interface{}) map[string]bool {
	out := map[string]bool{}
	add := func(ext string) {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	switch v := raw.(type) {
	case []string:
		for _, ext := range v {
			add(ext)
		}
	case []interface{}:
		for _, item := range v {
			if ext, ok := item.(string); ok {
				add(ext)
			}
		}
	}
	return out
}

func matchesExtension(name string, extensions map[string]bool) bool {
	if len(extensions) == 0 {
		return true
	}
	return extensions[strings.ToLower(filepath.Ext(name))]
}
