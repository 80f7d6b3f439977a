package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
)

// Client owns the browser connection and the pages attached through it.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu    sync.Mutex
	cdp   *rawCDP
	pages map[target.ID]*Page
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		pages:       make(map[target.ID]*Page),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	// Target events (title changes, crashes) are only sent to the browser
	// session once discovery is on.
	discover := struct {
		Discover bool `json:"discover"`
	}{Discover: true}
	if _, err := c.cdp.send(ctx, target.CommandSetDiscoverTargets, discover); err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "enable target discovery failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

// Done is closed when the browser connection drops. It is nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil
	}
	return c.cdp.done()
}

func (c *Client) cleanupLocked() {
	// Detach from any attached pages without closing their targets.
	if c.cdp != nil {
		for targetID, p := range c.pages {
			if p == nil {
				continue
			}
			p.dispose()
			if p.sessionID == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.cdp.detachFromTarget(ctx, p.sessionID); err != nil {
				slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "session_id", p.sessionID, "error", err)
			}
			cancel()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.pages = make(map[target.ID]*Page)
}

// ListPages returns the open page targets sorted by target id.
func (c *Client) ListPages(ctx context.Context) ([]PageInfo, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := cdp.listTargets(ctx)
	if err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	pages := make([]PageInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		pages = append(pages, PageInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].TargetID < pages[j].TargetID
	})
	slog.Debug("cdpcontrol list pages", "count", len(pages))
	return pages, nil
}

// AttachPage attaches a session to the page target and enables the domains
// the page client relies on.
func (c *Client) AttachPage(ctx context.Context, targetID string) (*Page, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, newError(CodeValidation, "target id is required", nil)
	}

	pages, err := c.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, p := range pages {
		if p.TargetID == targetID {
			found = true
			break
		}
	}
	if !found {
		return nil, newError(CodeTargetNotFound, "page not found: "+targetID, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if existing := c.pages[target.ID(targetID)]; existing != nil {
		return existing, nil
	}

	sid, err := c.cdp.attachToTarget(ctx, target.ID(targetID))
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)

	p := newPage(c, c.cdp, target.ID(targetID), sid, c.evalTimeout)
	if err := p.enable(ctx); err != nil {
		p.dispose()
		detachCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.cdp.detachFromTarget(detachCtx, sid)
		cancel()
		return nil, err
	}
	c.pages[target.ID(targetID)] = p
	return p, nil
}

func (c *Client) forget(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages[p.targetID] == p {
		delete(c.pages, p.targetID)
	}
}

// BrowserVersion returns the product name and default user agent.
func (c *Client) BrowserVersion(ctx context.Context) (product, userAgent string, err error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return "", "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	raw, err := cdp.send(ctx, browser.CommandGetVersion, nil)
	if err != nil {
		return "", "", newError(CodeCDPUnavailable, "get browser version failed", err)
	}
	var resp struct {
		Product   string `json:"product"`
		UserAgent string `json:"userAgent"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", newError(CodeCDPUnavailable, "decode browser version failed", err)
	}
	return resp.Product, resp.UserAgent, nil
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
