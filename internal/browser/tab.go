package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Tab is a browser tab held open for the viewer.
type Tab struct {
	TargetID string

	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// OpenTab connects to the browser at cdpURL and returns a page tab. When
// reuse names an existing page target that tab is used, otherwise a new tab is
// created. The connection outlives ctx; release it with Close.
func OpenTab(ctx context.Context, cdpURL, reuse string) (*Tab, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	var opts []chromedp.ContextOption
	if reuse != "" {
		opts = append(opts, chromedp.WithTargetID(target.ID(reuse)))
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx, opts...)

	if err := ctx.Err(); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("open viewer tab: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("open viewer tab: no target")
	}
	id := string(c.Target.TargetID)

	if targets, err := chromedp.Targets(tabCtx); err == nil {
		slog.Debug("browser targets", "count", len(targets))
	}
	slog.Info("viewer tab ready", "target_id", id, "reused", reuse != "")
	return &Tab{TargetID: id, cancel: cancel, allocCancel: allocCancel}, nil
}

// Close releases the tab's browser connection.
func (t *Tab) Close() {
	if t == nil {
		return
	}
	t.cancel()
	t.allocCancel()
}
