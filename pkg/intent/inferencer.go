package intent

import (
	"context"
	"sort"
	"strings"

	"deskmate/pkg/config"
	"deskmate/pkg/contextbuf"
	"deskmate/pkg/logger"
	"deskmate/pkg/providers"
	"deskmate/pkg/task"
)

const (
	dominantAppScore = 0.80
	domainScore      = 0.62
	ambiguityGap     = 0.12
)

// Inferencer maps a free-form utterance onto a task descriptor. Rule
// scoring runs first; utterances that stay below the confidence
// threshold fall through to the LLM classifier.
type Inferencer struct {
	cfg      *config.Config
	provider providers.Provider
	store    *contextbuf.Store
	aliases  map[string]string // spoken phrase -> app key
}

func NewInferencer(cfg *config.Config, provider providers.Provider, store *contextbuf.Store) *Inferencer {
	aliases := make(map[string]string)
	for key, app := range cfg.Apps {
		aliases[key] = key
		for _, alias := range app.Aliases {
			aliases[strings.ToLower(alias)] = key
		}
	}
	for key, phrases := range extraAppAliases {
		if _, known := cfg.Apps[key]; !known {
			continue
		}
		for _, phrase := range phrases {
			if _, exists := aliases[phrase]; !exists {
				aliases[phrase] = key
			}
		}
	}
	return &Inferencer{cfg: cfg, provider: provider, store: store, aliases: aliases}
}

// Infer produces a task descriptor for the utterance. It never returns an
// error: failures degrade to ActionUnknown with a reason in Params.
func (inf *Inferencer) Infer(ctx context.Context, sessionID, utterance, model string) task.Descriptor {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return unknown(utterance, "empty", "Я не расслышал команду, повторите её.")
	}

	if ref, ok := ParseReference(utterance); ok {
		return inf.resolveReference(sessionID, utterance, ref)
	}

	if desc, ok := inf.inferRules(normalized, utterance); ok {
		return desc
	}

	desc, err := inf.classifyLLM(ctx, utterance, model)
	if err != nil {
		logger.WarnCF("intent", "llm classification failed", map[string]interface{}{
			"error": err.Error(),
		})
		return task.Descriptor{
			Action:       task.ActionUnknown,
			Confidence:   0,
			RawUtterance: utterance,
			Params: map[string]interface{}{
				"reason":  task.ReasonInferenceUnavailable,
				"message": "Сервис распознавания команд недоступен, попробуйте позже.",
			},
		}
	}
	return desc
}

func unknown(utterance, reason, message string) task.Descriptor {
	return task.Descriptor{
		Action:       task.ActionUnknown,
		Confidence:   0,
		RawUtterance: utterance,
		Params: map[string]interface{}{
			"reason":  reason,
			"message": message,
		},
	}
}

func (inf *Inferencer) resolveReference(sessionID, utterance string, ref contextbuf.Reference) task.Descriptor {
	target, err := inf.store.ResolveReference(sessionID, ref)
	if err != nil {
		return task.Descriptor{
			Action:       task.ActionUnknown,
			Confidence:   0,
			RawUtterance: utterance,
			Params: map[string]interface{}{
				"reason":  task.ReasonAmbiguousReference,
				"message": "Не понимаю, о каком результате речь. Сначала выполните поиск.",
			},
		}
	}
	kind := ""
	if entry, ok := inf.store.Get(sessionID); ok {
		kind = string(entry.Kind)
	}
	return task.Descriptor{
		Action:       task.ActionOpenIndexedResult,
		Confidence:   0.95,
		RawUtterance: utterance,
		Params: map[string]interface{}{
			"target": target,
			"kind":   kind,
		},
	}
}

type domainHit struct {
	domain string
	score  float64
}

func (inf *Inferencer) inferRules(normalized, utterance string) (task.Descriptor, bool) {
	tokens := tokenize(normalized)
	hasSearchMarker := containsAny(normalized, searchMarkers)
	hasNegativeMarker := containsAny(normalized, negativeSearchMarkers)
	hasWebHint := containsAny(normalized, webSearchHints)

	appKey, appScore := bestAlias(normalized, inf.aliases, 0.6)
	fileHit := inf.scoreFileDomains(normalized, tokens)
	webScore := inf.scoreWeb(normalized, tokens, hasWebHint)

	closeVerb := containsAny(normalized, []string{"закрой", "закрыть", "выключи", "close", "quit"})

	if appScore >= dominantAppScore && appScore > fileHit.score && appScore > webScore && !hasSearchMarker {
		action := task.ActionOpenApp
		if closeVerb {
			action = task.ActionCloseApp
		}
		return task.Descriptor{
			Action:       action,
			Confidence:   appScore,
			RawUtterance: utterance,
			Params:       map[string]interface{}{"app": appKey},
		}, true
	}

	if hasSearchMarker && !hasNegativeMarker {
		if hasWebHint || (fileHit.score < domainScore && webScore >= inf.cfg.Agent.ConfidenceThreshold) {
			return webDescriptor(utterance, maxFloat(webScore, 0.75), false), true
		}
		if fileHit.score >= inf.cfg.Agent.ConfidenceThreshold {
			return fileDescriptor(utterance, fileHit, maxFloat(fileHit.score, 0.75), false), true
		}
		// Explicit search verb with no recognizable domain defaults to
		// a local search over the raw terms.
		terms := stripStopWords(tokens)
		if len(terms) > 0 {
			return task.Descriptor{
				Action:       task.ActionSearchLocal,
				Confidence:   0.70,
				RawUtterance: utterance,
				Params: map[string]interface{}{
					"query":      strings.Join(terms, " "),
					"open_first": false,
				},
			}, true
		}
	}

	ambiguous := fileHit.score >= inf.cfg.Agent.ConfidenceThreshold &&
		webScore >= inf.cfg.Agent.ConfidenceThreshold &&
		absFloat(fileHit.score-webScore) < ambiguityGap
	if ambiguous {
		return task.Descriptor{
			Action:       task.ActionUnknown,
			Confidence:   maxFloat(fileHit.score, webScore),
			RawUtterance: utterance,
			Params: map[string]interface{}{
				"reason":  "clarify",
				"message": "Искать на компьютере или в интернете?",
			},
		}, true
	}

	if fileHit.score >= domainScore && fileHit.score > webScore {
		return fileDescriptor(utterance, fileHit, fileHit.score, true), true
	}
	if webScore >= domainScore && webScore > fileHit.score {
		return webDescriptor(utterance, webScore, true), true
	}
	return task.Descriptor{}, false
}

func fileDescriptor(utterance string, hit domainHit, score float64, openFirst bool) task.Descriptor {
	params := map[string]interface{}{
		"query":      defaultQuery(utterance, hit.domain),
		"open_first": openFirst,
	}
	if hit.domain != "" {
		params["domain"] = hit.domain
		if exts := DomainExtensions(hit.domain); len(exts) > 0 {
			params["extensions"] = exts
		}
	}
	return task.Descriptor{
		Action:       task.ActionSearchLocal,
		Confidence:   score,
		RawUtterance: utterance,
		Params:       params,
	}
}

func webDescriptor(utterance string, score float64, openFirst bool) task.Descriptor {
	terms := stripStopWords(tokenize(strings.ToLower(utterance)))
	query := strings.Join(terms, " ")
	if query == "" {
		query = utterance
	}
	return task.Descriptor{
		Action:       task.ActionSearchWeb,
		Confidence:   score,
		RawUtterance: utterance,
		Params: map[string]interface{}{
			"query":      query,
			"open_first": openFirst,
		},
	}
}

func defaultQuery(utterance, domain string) string {
	terms := stripStopWords(tokenize(strings.ToLower(utterance)))
	kept := make([]string, 0, len(terms))
	for _, term := range terms {
		if genericFileWords[term] {
			continue
		}
		kept = append(kept, term)
	}
	if len(kept) > 0 {
		return strings.Join(kept, " ")
	}
	if fd, ok := fileDomains[domain]; ok && len(fd.defaultTerms) > 0 {
		return strings.Join(fd.defaultTerms, " ")
	}
	return strings.Join(terms, " ")
}

func (inf *Inferencer) scoreFileDomains(normalized string, tokens []string) domainHit {
	best := domainHit{}
	for name, fd := range fileDomains {
		score := 0.0
		for _, keyword := range fd.keywords {
			if strings.Contains(normalized, keyword) {
				score = maxFloat(score, 0.70)
				continue
			}
			if fs := fuzzyScore(normalized, keyword); fs > score*0.9 {
				score = maxFloat(score, fs*0.85)
			}
		}
		for _, token := range tokens {
			for _, ext := range fd.extensions {
				if strings.HasSuffix(token, ext) {
					score = maxFloat(score, 0.85)
				}
			}
		}
		if score > best.score {
			best = domainHit{domain: name, score: score}
		}
	}
	for _, token := range tokens {
		if genericFileWords[token] && best.score < 0.60 {
			best.score = 0.60
		}
	}
	return best
}

func (inf *Inferencer) scoreWeb(normalized string, tokens []string, hasWebHint bool) float64 {
	score := 0.0
	if hasWebHint {
		score = 0.80
	}
	for keyword := range webKeywords {
		if strings.Contains(normalized, keyword) {
			score = maxFloat(score, 0.65)
		}
	}
	for _, token := range tokens {
		if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
			score = maxFloat(score, 0.90)
		}
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
		return true
	}
	if r >= 'а' && r <= 'я' || r == 'ё' {
		return true
	}
	return r == '.' || r == '_' || r == '-' || r == ':' || r == '/'
}

func stripStopWords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if stopWords[token] {
			continue
		}
		out = append(out, token)
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absFloat(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

// KnownActions lists action kinds the LLM classifier may emit, used in
// the classification prompt and when validating its output.
func KnownActions() []string {
	actions := []string{
		string(task.ActionOpenApp),
		string(task.ActionCloseApp),
		string(task.ActionSearchLocal),
		string(task.ActionSearchWeb),
		string(task.ActionOpenPath),
		string(task.ActionUnknown),
	}
	sort.Strings(actions)
	return actions
}

func validAction(name string) (task.ActionKind, bool) {
	for _, known := range KnownActions() {
		if name == known {
			return task.ActionKind(name), true
		}
	}
	return task.ActionUnknown, false
}
