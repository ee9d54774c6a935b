package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deskmate/pkg/config"
	"deskmate/pkg/task"
	"deskmate/pkg/transport"
)

const searchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// WebSearchOp queries the DuckDuckGo HTML endpoint and returns ranked
// result URLs. The endpoint serves plain HTML, no API key required, but it
// fences off clients with a non-browser TLS fingerprint, hence the shared
// Chrome-fingerprinted transport.
type WebSearchOp struct {
	searchURL  string
	maxResults int
	client     *http.Client
}

func NewWebSearchOp(cfg config.WebConfig) *WebSearchOp {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = "https://duckduckgo.com/html/"
	}
	return &WebSearchOp{
		searchURL:  searchURL,
		maxResults: maxResults,
		client:     searchClient(cfg),
	}
}

// searchClient picks the transport variant for the search endpoint. The h2
// profile is heavier but survives endpoints that fingerprint the HTTP/2
// SETTINGS frame too.
func searchClient(cfg config.WebConfig) *http.Client {
	if cfg.H2Fingerprint {
		return transport.NewH2Client()
	}
	if cfg.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Proxy); err == nil {
			return &http.Client{Transport: transport.NewProxyTransport(proxyURL)}
		}
	}
	return transport.NewClient()
}

// SetClient replaces the HTTP client. Test hook.
func (t *WebSearchOp) SetClient(client *http.Client) { t.client = client }

func (t *WebSearchOp) Name() string        { return "web_search" }
func (t *WebSearchOp) Description() string { return "Найти информацию в интернете" }

func (t *WebSearchOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Поисковый запрос",
			},
		},
		"required": []string{"query"},
	}
}

type webResult struct {
	title string
	url   string
}

func (t *WebSearchOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан поисковый запрос")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.searchURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось сформировать запрос: %v", err))
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("поиск в интернете недоступен: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("поисковик ответил статусом %d", resp.StatusCode))
	}

	results, err := parseSearchResults(resp, t.maxResults)
	if err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось разобрать результаты поиска: %v", err))
	}

	urls := make([]string, 0, len(results))
	titles := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.url)
		titles = append(titles, r.title)
	}

	if len(urls) == 0 {
		return task.OkResult(fmt.Sprintf("По запросу %q в интернете ничего не нашлось", query)).
			WithData("results", urls)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Нашёл %d результатов по запросу %q:", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, r.title, r.url)
	}
	return task.OkResult(b.String()).
		WithData("results", urls).
		WithData("titles", titles)
}

func parseSearchResults(resp *http.Response, limit int) ([]webResult, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []webResult
	doc.Find("a.result__a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, exists := s.Attr("href")
		if !exists {
			return true
		}
		target := unwrapRedirect(href)
		if target == "" {
			return true
		}
		title := strings.TrimSpace(s.Text())
		if title == "" {
			title = target
		}
		results = append(results, webResult{title: title, url: target})
		return len(results) < limit
	})
	return results, nil
}

// unwrapRedirect extracts the destination from DuckDuckGo's /l/?uddg=...
// redirect links. Direct links pass through unchanged.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if uddg := parsed.Query().Get("uddg"); uddg != "" {
		if target, err := url.QueryUnescape(uddg); err == nil {
			return target
		}
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return href
	}
	return ""
}

// WebOpenOp opens a URL in the configured or default browser.
type WebOpenOp struct {
	browser string
	opener  systemOpener
}

func NewWebOpenOp(cfg config.WebConfig) *WebOpenOp {
	op := &WebOpenOp{browser: cfg.Browser}
	op.opener = op.openURL
	return op
}

// SetOpener replaces URL opening. Test hook.
func (t *WebOpenOp) SetOpener(opener systemOpener) { t.opener = opener }

func (t *WebOpenOp) Name() string        { return "web_open" }
func (t *WebOpenOp) Description() string { return "Открыть ссылку в браузере" }

func (t *WebOpenOp) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Адрес страницы",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebOpenOp) Execute(ctx context.Context, args map[string]interface{}) *task.Result {
	raw, ok := args["url"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return task.ErrorResult(task.ReasonOperationFailure, "не указан адрес")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return task.ErrorResult(task.ReasonCapabilityViolation,
			fmt.Sprintf("адрес %q не является http(s)-ссылкой", raw))
	}
	if err := t.opener(ctx, raw); err != nil {
		return task.ErrorResult(task.ReasonOperationFailure,
			fmt.Sprintf("не удалось открыть ссылку: %v", err))
	}
	return task.OkResult(fmt.Sprintf("Открыл %s", raw)).WithData("opened", raw)
}

func (t *WebOpenOp) openURL(ctx context.Context, target string) error {
	if t.browser != "" {
		return exec.CommandContext(ctx, t.browser, target).Start()
	}
	return defaultOpener(ctx, target)
}
