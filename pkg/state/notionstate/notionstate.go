// Package notionstate implements the Notion service's State Manager. The
// public Notion API has no atomic "duplicate page" primitive, so Set drives
// duplication through headless-browser automation against the Notion web
// app, exactly as spec §4.3 describes ("duplication is driven through a
// browser-automation fallback"); Clean archives the page through the
// regular API, which does support archiving.
//
// No file in the retrieval pack exercises chromedp; this is written
// directly from the SDK's published API, the same caveat already recorded
// for google/go-github in pkg/state/githubstate.
package notionstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

const notionAPIBase = "https://api.notion.com/v1"

// Manager implements state.Manager for the notion service.
type Manager struct {
	APIKey          string
	ParentPageTitle string
	WorkspaceURL    string

	// apiBase defaults to notionAPIBase; overridable in tests to point at a
	// stub server.
	apiBase    string
	httpClient *http.Client
	resolved   *config.ResolvedService
}

// New constructs a notion Manager bound to resolved's configuration.
func New(resolved *config.ResolvedService) *Manager {
	return &Manager{
		APIKey:          resolved.Values["api_key"],
		ParentPageTitle: resolved.Values["parent_page_title"],
		WorkspaceURL:    resolved.Values["workspace_url"],
		apiBase:         notionAPIBase,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		resolved:        resolved,
	}
}

// Set duplicates the task's template page (named in meta.json's
// "template_page_title") under the configured parent page, titling the copy
// with a run-index suffix to resolve title collisions from concurrent runs
// (spec §4.3: "race on title collisions is resolved by a run-index suffix").
func (m *Manager) Set(ctx context.Context, runCtx state.RunContext) (state.InitialStateInfo, error) {
	templateTitle, _ := runCtx.Task.Meta.Extra["template_page_title"].(string)
	if templateTitle == "" {
		return state.InitialStateInfo{}, fmt.Errorf("notionstate: task meta.json missing required \"template_page_title\" field")
	}
	newTitle := fmt.Sprintf("%s (%s)", templateTitle, runCtx.Suffix())

	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancelTimeout()

	pageURL := fmt.Sprintf("%s/%s", strings.TrimSuffix(m.WorkspaceURL, "/"), slugify(templateTitle))
	var duplicatedURL string

	// chromedp has no ":has-text" selector, so the menu-item click is driven
	// through an inline script matching on innerText — the DOM has no stable
	// test id for Notion's context menu.
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible(`div.notion-page-content`, chromedp.ByQuery),
		chromedp.Click(`div[role="button"][aria-label="More"]`, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.WaitVisible(`div[role="menu"]`, chromedp.ByQuery),
		chromedp.Evaluate(clickMenuItemByTextJS("Duplicate"), nil),
		chromedp.WaitVisible(`div.notion-page-content`, chromedp.ByQuery),
		chromedp.SetAttributeValue(`div.notranslate[contenteditable="true"]`, "textContent", newTitle, chromedp.ByQuery),
		chromedp.Location(&duplicatedURL),
	)
	if err != nil {
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "notion", Reason: "browser duplication", Err: err}
	}

	pageID := pageIDFromURL(duplicatedURL)
	return state.InitialStateInfo{Service: "notion", PageID: pageID, PageURL: duplicatedURL}, nil
}

// Retrieve returns the page's current last-edited timestamp as a diagnostic
// snapshot.
func (m *Manager) Retrieve(ctx context.Context, info state.InitialStateInfo) (state.SnapshotRef, error) {
	var page struct {
		LastEditedTime time.Time `json:"last_edited_time"`
	}
	if err := m.apiGet(ctx, "/pages/"+info.PageID, &page); err != nil {
		return state.SnapshotRef{}, err
	}
	return state.SnapshotRef{Kind: "page-revision", Location: info.PageID, TakenAt: page.LastEditedTime}, nil
}

// Clean archives the duplicated page via the public API (no browser
// automation needed for archiving, unlike duplication).
func (m *Manager) Clean(ctx context.Context, info state.InitialStateInfo) error {
	if info.PageID == "" {
		return nil
	}
	if err := m.apiPatch(ctx, "/pages/"+info.PageID, map[string]any{"archived": true}); err != nil {
		slog.Warn("notionstate: residual page left un-archived", "page_id", info.PageID, "error", err)
		return fmt.Errorf("notionstate: archive %s: %w", info.PageID, err)
	}
	return nil
}

// PrepareAgentConfig binds the Notion API key into the tool server's
// environment; the per-run page the agent should operate on is conveyed
// through the templated task description, not the transport.
func (m *Manager) PrepareAgentConfig(info state.InitialStateInfo, creds state.CredentialBundle) (config.TransportConfig, error) {
	return m.resolved.Transport(), nil
}

func (m *Manager) apiGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiBase+path, nil)
	if err != nil {
		return err
	}
	return m.do(req, out)
}

func (m *Manager) apiPatch(ctx context.Context, path string, body map[string]any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, m.apiBase+path, jsonBody(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req, nil)
}

func (m *Manager) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Notion-Version", "2022-06-28")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notion API %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out != nil {
		return decodeJSON(resp.Body, out)
	}
	return nil
}

// clickMenuItemByTextJS builds a script that clicks the first visible
// role="menuitem" whose text matches label.
func clickMenuItemByTextJS(label string) string {
	return fmt.Sprintf(`(() => {
		const items = Array.from(document.querySelectorAll('div[role="menuitem"]'));
		const match = items.find(el => el.textContent.trim().startsWith(%q));
		if (match) match.click();
	})()`, label)
}

func slugify(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "-")
}

func pageIDFromURL(url string) string {
	idx := strings.LastIndex(url, "-")
	if idx == -1 {
		return url
	}
	return url[idx+1:]
}

func jsonBody(v map[string]any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
