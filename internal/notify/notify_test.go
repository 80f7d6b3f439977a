package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const wallpaperMessage = "swww command not found. Please install swww."

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string
	var receivedTitle string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			receivedTitle = r.Header.Get("Title")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	n := NTFY{Client: client, Endpoint: "http://example.com/iv"}
	if err := n.Critical(ctx, "Wallpaper Error", wallpaperMessage); err != nil {
		t.Fatalf("Critical() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/iv"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedTitle, "Wallpaper Error"; got != want {
		t.Fatalf("title = %q; want %q", got, want)
	}
	if got, want := receivedBody, wallpaperMessage; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/iv", "", wallpaperMessage)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	err := Send(ctx, http.DefaultClient, "", "", wallpaperMessage)
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestLogWritesTitleAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := l.Critical(context.Background(), "Render process crashed", "exit code: 139"); err != nil {
		t.Fatalf("Critical() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Render process crashed") || !strings.Contains(out, "exit code: 139") {
		t.Fatalf("log = %q; want title and message", out)
	}
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	var calls []string
	failing := errors.New("offline")
	m := Multi{
		Func(func(_ context.Context, title, _ string) error { calls = append(calls, "a:"+title); return failing }),
		nil,
		Func(func(_ context.Context, title, _ string) error { calls = append(calls, "b:"+title); return nil }),
	}

	err := m.Critical(context.Background(), "t", "m")
	if !errors.Is(err, failing) {
		t.Fatalf("Critical() error = %v; want %v", err, failing)
	}
	if strings.Join(calls, ",") != "a:t,b:t" {
		t.Fatalf("calls = %v; want both notifiers", calls)
	}
}

func TestAsyncReturnsBeforeDelivery(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan string, 1)
	a := &Async{Notifier: Func(func(ctx context.Context, title, message string) error {
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered <- title + ": " + message
		return nil
	})}

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	if err := a.Critical(ctx, "Wallpaper Error", wallpaperMessage); err != nil {
		t.Fatalf("Critical() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Critical() took %v; want it to return without waiting", elapsed)
	}
	cancel()
	close(release)
	a.Wait()

	select {
	case got := <-delivered:
		if want := "Wallpaper Error: " + wallpaperMessage; got != want {
			t.Fatalf("delivered = %q; want %q", got, want)
		}
	default:
		t.Fatal("notice not delivered after caller context was canceled")
	}
}

func TestAsyncLogsDeliveryFailure(t *testing.T) {
	var buf bytes.Buffer
	a := &Async{
		Notifier: Func(func(context.Context, string, string) error { return errors.New("endpoint down") }),
		Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
	}
	if err := a.Critical(context.Background(), "Render process crashed", "boom"); err != nil {
		t.Fatalf("Critical() error = %v", err)
	}
	a.Wait()
	if !strings.Contains(buf.String(), "endpoint down") {
		t.Fatalf("log = %q; want delivery error", buf.String())
	}
}

func TestAsyncTimeoutBoundsDelivery(t *testing.T) {
	var got error
	a := &Async{
		Notifier: Func(func(ctx context.Context, _, _ string) error {
			<-ctx.Done()
			got = ctx.Err()
			return got
		}),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: 20 * time.Millisecond,
	}
	_ = a.Critical(context.Background(), "t", "m")
	a.Wait()
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("delivery ctx error = %v; want deadline exceeded", got)
	}
}
