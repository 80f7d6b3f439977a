// Package notify shows user-visible notices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Notifier reports a critical message to the user.
type Notifier interface {
	Critical(ctx context.Context, title, message string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, title, message string) error

func (f Func) Critical(ctx context.Context, title, message string) error {
	return f(ctx, title, message)
}

// Log writes notices to a logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Critical(_ context.Context, title, message string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(title, "message", message)
	return nil
}

// NTFY pushes notices to an ntfy topic endpoint.
type NTFY struct {
	Client   *http.Client
	Endpoint string
}

func (n NTFY) Critical(ctx context.Context, title, message string) error {
	return Send(ctx, n.Client, n.Endpoint, title, message)
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Critical(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Critical(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultAsyncTimeout bounds one delivery made by Async.
const DefaultAsyncTimeout = 10 * time.Second

// Async hands notices to Notifier on a separate goroutine so the caller never
// waits on a slow endpoint. Critical always returns nil; delivery errors are
// logged. Deliveries run under ctx's values but not its cancellation, bounded
// by Timeout.
type Async struct {
	Notifier Notifier
	Timeout  time.Duration
	Logger   *slog.Logger

	wg sync.WaitGroup
}

func (a *Async) Critical(ctx context.Context, title, message string) error {
	if a.Notifier == nil {
		return nil
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		if err := a.Notifier.Critical(dctx, title, message); err != nil {
			logger := a.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("notice delivery failed", "title", title, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every delivery started so far has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Send posts message to endpoint using HTTP POST. A non-empty title is sent in
// the ntfy Title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
