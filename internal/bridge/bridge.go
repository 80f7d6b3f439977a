// Package bridge carries messages between the host and the page. The page
// queues messages which the host fetches with Poll; the host calls page
// functions with Call.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dgnsrekt/iv/internal/event"
	"github.com/dgnsrekt/iv/internal/inject"
)

// QueryExpression fetches pending page messages. It evaluates to "" when the
// page has not defined the query function.
const QueryExpression = `(function(){ try { return window.get_messages_from_javascript(); } catch (e) { return ""; } })()`

// ErrTornDown is returned by Dispatch and Call once the bridge is torn down.
var ErrTornDown = errors.New("bridge: torn down")

// ResultFunc receives the completion of a script run. result is the script's
// value rendered as text (strings as-is, anything else as JSON).
type ResultFunc func(result string, err error)

// Surface is the rendering surface the bridge talks to. done must be invoked
// at most once, on the control loop.
type Surface interface {
	RunJavaScript(source string, world inject.World, done ResultFunc)
}

// Payload is a message with its func field removed.
type Payload map[string]any

// String returns the string value at key.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Handler handles one message.
type Handler func(ctx context.Context, p Payload) error

// State is the bridge lifecycle state.
type State int

const (
	Active State = iota
	TornDown
)

func (s State) String() string {
	if s == TornDown {
		return "torn-down"
	}
	return "active"
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for dispatch and console output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithContext sets the context handed to handlers for polled messages.
func WithContext(ctx context.Context) Option {
	return func(b *Bridge) { b.ctx = ctx }
}

// Bridge dispatches page messages to registered handlers. It is not safe for
// concurrent use; every method runs on the control loop.
type Bridge struct {
	surface  Surface
	handlers map[string]Handler
	log      *slog.Logger
	ctx      context.Context

	state       State
	polling     bool
	pollPending bool
	disposers   event.Disposers
	done        chan struct{}
}

// New returns an active bridge over surface with an empty dispatch table.
func New(surface Surface, opts ...Option) *Bridge {
	b := &Bridge{
		surface:  surface,
		handlers: make(map[string]Handler),
		log:      slog.Default(),
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds name to h, replacing any previous handler.
func (b *Bridge) Register(name string, h Handler) {
	b.handlers[name] = h
}

// Handlers returns the registered handler names.
func (b *Bridge) Handlers() []string {
	out := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		out = append(out, name)
	}
	return out
}

// State reports whether the bridge is active.
func (b *Bridge) State() State {
	return b.state
}

// Done is closed by Teardown. Unlike the other methods it may be used from
// any goroutine.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// AddDisposer registers fn to run on Teardown.
func (b *Bridge) AddDisposer(fn func()) {
	b.disposers.Add(fn)
}

// Poll asks the page for queued messages. A Poll issued while another is in
// flight is folded into a single follow-up poll.
func (b *Bridge) Poll() {
	if b.state == TornDown {
		return
	}
	if b.polling {
		b.pollPending = true
		return
	}
	b.polling = true
	b.surface.RunJavaScript(QueryExpression, inject.WorldApplication, b.pollDone)
}

func (b *Bridge) pollDone(raw string, err error) {
	b.polling = false
	if b.state == TornDown {
		b.log.Debug("dropping poll result after teardown", "bytes", len(raw))
		return
	}
	if err != nil {
		b.log.Warn("message poll failed", "error", err)
	} else {
		b.OnResult(raw)
	}
	if b.pollPending {
		b.pollPending = false
		b.Poll()
	}
}

// OnResult dispatches a JSON array of messages in order. Empty input and the
// empty array are no-ops.
func (b *Bridge) OnResult(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var batch []any
	if err := dec.Decode(&batch); err != nil {
		b.log.Warn("dropping malformed message batch", "error", err, "bytes", len(raw))
		return
	}

	for i, item := range batch {
		msg, ok := item.(map[string]any)
		if !ok {
			b.log.Warn("dropping message that is not an object", "index", i)
			continue
		}
		if err := b.Dispatch(b.ctx, msg); err != nil {
			if errors.Is(err, ErrTornDown) {
				return
			}
			b.log.Error("message handler failed", "func", msg["func"], "error", err)
		}
	}
}

// Dispatch routes msg to the handler named by its func field. Unknown names
// are ignored; a message without a string func is dropped.
func (b *Bridge) Dispatch(ctx context.Context, msg map[string]any) (err error) {
	if b.state == TornDown {
		return ErrTornDown
	}
	name, ok := msg["func"].(string)
	if !ok {
		b.log.Warn("dropping message without func", "keys", len(msg))
		return nil
	}
	h, ok := b.handlers[name]
	if !ok {
		b.log.Debug("ignoring message for unknown handler", "func", name)
		return nil
	}

	payload := make(Payload, len(msg))
	for k, v := range msg {
		if k != "func" {
			payload[k] = v
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge: handler %s panicked: %v", name, r)
		}
	}()
	if err := h(ctx, payload); err != nil {
		return fmt.Errorf("bridge: %s: %w", name, err)
	}
	return nil
}

var funcPath = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// CallExpression builds the script that applies window.<fn> to args.
func CallExpression(fn string, args ...any) (string, error) {
	if !funcPath.MatchString(fn) {
		return "", fmt.Errorf("bridge: invalid function name %q", fn)
	}
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("bridge: encode arguments for %s: %w", fn, err)
	}
	return fmt.Sprintf("window.%s.apply(this, %s)", fn, data), nil
}

// Call invokes a page function without waiting for its result.
func (b *Bridge) Call(fn string, args ...any) error {
	return b.CallWithResult(fn, nil, args...)
}

// CallWithResult invokes a page function and hands its return value to cb.
// There is no timeout beyond the surface's own.
func (b *Bridge) CallWithResult(fn string, cb ResultFunc, args ...any) error {
	if b.state == TornDown {
		return ErrTornDown
	}
	expr, err := CallExpression(fn, args...)
	if err != nil {
		return err
	}
	b.surface.RunJavaScript(expr, inject.WorldApplication, func(result string, err error) {
		if err != nil {
			b.log.Warn("page call failed", "func", fn, "error", err)
		}
		if cb != nil && b.state == Active {
			cb(result, err)
		}
	})
	return nil
}

// Teardown detaches the bridge. Registered disposers run once; later calls do
// nothing.
func (b *Bridge) Teardown() {
	if b.state == TornDown {
		return
	}
	b.state = TornDown
	close(b.done)
	b.pollPending = false
	clear(b.handlers)
	b.disposers.Dispose()
	b.log.Debug("bridge torn down")
}
