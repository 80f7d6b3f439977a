package bridge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgnsrekt/iv/internal/inject"
)

type pendingRun struct {
	source string
	world  inject.World
	done   ResultFunc
}

// fakeSurface records script runs; tests complete them explicitly.
type fakeSurface struct {
	runs []pendingRun
}

func (f *fakeSurface) RunJavaScript(source string, world inject.World, done ResultFunc) {
	f.runs = append(f.runs, pendingRun{source: source, world: world, done: done})
}

func newTestBridge(t *testing.T) (*Bridge, *fakeSurface, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := &fakeSurface{}
	return New(s, WithLogger(logger)), s, &buf
}

func TestOnResultEmptyIsNoop(t *testing.T) {
	b, _, _ := newTestBridge(t)
	calls := 0
	b.Register("anything", func(context.Context, Payload) error { calls++; return nil })

	for _, raw := range []string{"", "[]", "  [] \n"} {
		b.OnResult(raw)
	}
	if calls != 0 {
		t.Fatalf("handler calls = %d; want 0", calls)
	}
}

func TestOnResultDispatchesInOrderAndStripsFunc(t *testing.T) {
	b, _, _ := newTestBridge(t)
	var got []string
	b.Register("a", func(_ context.Context, p Payload) error {
		if _, ok := p["func"]; ok {
			t.Errorf("payload still contains func")
		}
		v, _ := p.String("v")
		got = append(got, "a:"+v)
		return nil
	})
	b.Register("b", func(context.Context, Payload) error {
		got = append(got, "b")
		return nil
	})

	b.OnResult(`[{"func":"a","v":"1"},{"func":"b"},{"func":"a","v":"2"}]`)

	want := []string{"a:1", "b", "a:2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("dispatch order = %v; want %v", got, want)
	}
}

func TestOnResultIsolatesFailures(t *testing.T) {
	b, _, buf := newTestBridge(t)
	ran := 0
	b.Register("fails", func(context.Context, Payload) error { return errors.New("boom") })
	b.Register("panics", func(context.Context, Payload) error { panic("kaboom") })
	b.Register("ok", func(context.Context, Payload) error { ran++; return nil })

	b.OnResult(`[{"func":"fails"},{"func":"panics"},{"nofunc":1},{"func":7},"junk",{"func":"missing"},{"func":"ok"}]`)

	if ran != 1 {
		t.Fatalf("ok handler ran %d times; want 1", ran)
	}
	logs := buf.String()
	for _, want := range []string{"boom", "kaboom", "dropping message without func", "not an object"} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestOnResultMalformedBatchDropped(t *testing.T) {
	b, _, buf := newTestBridge(t)
	b.Register("x", func(context.Context, Payload) error {
		t.Fatal("handler called for malformed batch")
		return nil
	})
	b.OnResult(`[{"func":"x"`)
	b.OnResult(`{"func":"x"}`)
	if !strings.Contains(buf.String(), "malformed message batch") {
		t.Fatalf("expected malformed batch log, got:\n%s", buf.String())
	}
}

func TestDispatchUnknownHandlerIsNotAnError(t *testing.T) {
	b, _, _ := newTestBridge(t)
	if err := b.Dispatch(context.Background(), map[string]any{"func": "nope"}); err != nil {
		t.Fatalf("Dispatch() error = %v; want nil", err)
	}
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	b, _, _ := newTestBridge(t)
	sentinel := errors.New("disk full")
	b.Register("update_settings", func(context.Context, Payload) error { return sentinel })

	err := b.Dispatch(context.Background(), map[string]any{"func": "update_settings"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Dispatch() error = %v; want wrapping %v", err, sentinel)
	}
}

func TestPollCoalescesWhileInFlight(t *testing.T) {
	b, s, _ := newTestBridge(t)
	handled := 0
	b.Register("m", func(context.Context, Payload) error { handled++; return nil })

	b.Poll()
	b.Poll()
	b.Poll()
	if len(s.runs) != 1 {
		t.Fatalf("runs after three polls = %d; want 1 in flight", len(s.runs))
	}
	if s.runs[0].source != QueryExpression || s.runs[0].world != inject.WorldApplication {
		t.Fatalf("poll run = %+v; want query in application world", s.runs[0])
	}

	s.runs[0].done(`[{"func":"m"}]`, nil)
	if len(s.runs) != 2 {
		t.Fatalf("runs after completion = %d; want one follow-up", len(s.runs))
	}
	s.runs[1].done("", nil)
	if len(s.runs) != 2 {
		t.Fatalf("runs after follow-up = %d; want no further polls", len(s.runs))
	}
	if handled != 1 {
		t.Fatalf("handled = %d; want 1", handled)
	}
}

func TestPollErrorStillRunsFollowUp(t *testing.T) {
	b, s, _ := newTestBridge(t)
	b.Poll()
	b.Poll()
	s.runs[0].done("", errors.New("context destroyed"))
	if len(s.runs) != 2 {
		t.Fatalf("runs = %d; want follow-up after failed poll", len(s.runs))
	}
}

func TestTeardownSuppressesPendingCallResult(t *testing.T) {
	b, s, _ := newTestBridge(t)
	called := false
	if err := b.CallWithResult("answer", func(string, error) { called = true }); err != nil {
		t.Fatalf("CallWithResult() error = %v", err)
	}
	select {
	case <-b.Done():
		t.Fatal("Done() closed while active")
	default:
	}

	b.Teardown()
	s.runs[0].done("42", nil)

	if called {
		t.Fatal("result callback ran after teardown")
	}
	<-b.Done()
}

func TestTeardownDropsInFlightPoll(t *testing.T) {
	b, s, _ := newTestBridge(t)
	fired := false
	b.Register("m", func(context.Context, Payload) error { fired = true; return nil })

	b.Poll()
	b.Poll()
	b.Teardown()
	s.runs[0].done(`[{"func":"m"}]`, nil)

	if fired {
		t.Fatal("handler fired after teardown")
	}
	if len(s.runs) != 1 {
		t.Fatalf("runs = %d; want no follow-up poll after teardown", len(s.runs))
	}
	if b.State() != TornDown {
		t.Fatalf("State() = %v; want %v", b.State(), TornDown)
	}
}

func TestTeardownIsIdempotentAndRunsDisposersOnce(t *testing.T) {
	b, _, _ := newTestBridge(t)
	disposed := 0
	b.AddDisposer(func() { disposed++ })

	b.Teardown()
	b.Teardown()

	if disposed != 1 {
		t.Fatalf("disposer runs = %d; want 1", disposed)
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("Done() not closed after teardown")
	}
	if err := b.Dispatch(context.Background(), map[string]any{"func": "x"}); !errors.Is(err, ErrTornDown) {
		t.Fatalf("Dispatch() after teardown error = %v; want %v", err, ErrTornDown)
	}
	if err := b.Call("refresh_files"); !errors.Is(err, ErrTornDown) {
		t.Fatalf("Call() after teardown error = %v; want %v", err, ErrTornDown)
	}
}

func TestCallBuildsApplyExpression(t *testing.T) {
	b, s, _ := newTestBridge(t)
	var got string
	if err := b.CallWithResult("image_changed", func(r string, err error) { got = r }, "k", map[string]any{"size": 3}); err != nil {
		t.Fatalf("CallWithResult() error = %v", err)
	}
	want := `window.image_changed.apply(this, ["k",{"size":3}])`
	if s.runs[0].source != want {
		t.Fatalf("source = %q; want %q", s.runs[0].source, want)
	}
	s.runs[0].done("ok", nil)
	if got != "ok" {
		t.Fatalf("callback result = %q; want ok", got)
	}
}

func TestCallExpressionValidatesName(t *testing.T) {
	tests := []struct {
		fn   string
		want string
		ok   bool
	}{
		{"refresh_files", "window.refresh_files.apply(this, [])", true},
		{"ns.inner", "window.ns.inner.apply(this, [])", true},
		{"alert(1);x", "", false},
		{"", "", false},
		{"1abc", "", false},
	}
	for _, tt := range tests {
		got, err := CallExpression(tt.fn)
		if (err == nil) != tt.ok {
			t.Fatalf("CallExpression(%q) error = %v; want ok=%v", tt.fn, err, tt.ok)
		}
		if got != tt.want {
			t.Fatalf("CallExpression(%q) = %q; want %q", tt.fn, got, tt.want)
		}
	}
}

func TestLogConsoleFormatsAndRepairsUTF8(t *testing.T) {
	b, _, buf := newTestBridge(t)
	b.LogConsole(ConsoleMessage{Level: "error", Message: "bad \xff byte", Source: "main.js", Line: 42})

	out := buf.String()
	if !strings.Contains(out, "main.js:42:bad") {
		t.Fatalf("log = %q; want source:line:message", out)
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Fatalf("log = %q; want error level", out)
	}
}

type panicHandler struct{ slog.Handler }

func (panicHandler) Handle(context.Context, slog.Record) error { panic("handler exploded") }

func TestLogConsoleNeverPanics(t *testing.T) {
	logger := slog.New(panicHandler{slog.NewTextHandler(&bytes.Buffer{}, nil)})
	b := New(&fakeSurface{}, WithLogger(logger))
	b.LogConsole(ConsoleMessage{Message: "hi", Source: "x", Line: 1})
}
