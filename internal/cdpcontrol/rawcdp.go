package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errConnClosed = errors.New("rawcdp: connection closed")

// reply is a decoded command response handed from the read loop to a caller.
type reply struct {
	result json.RawMessage
	err    error
}

type listener func(sessionID string, params json.RawMessage)

// frame covers both directions of the flattened protocol: commands carry an
// id, responses echo it with result or error, events carry a method only.
type frame struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    any             `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// rawCDP multiplexes commands and events for every attached session over a
// single browser WebSocket.
type rawCDP struct {
	base string
	ids  atomic.Int64

	mu       sync.Mutex
	conn     net.Conn
	inflight map[int64]chan reply
	subs     map[string]map[int64]listener

	writeMu sync.Mutex
	closed  chan struct{}
}

func newRawCDP(base string) *rawCDP {
	return &rawCDP{
		base:     strings.TrimRight(base, "/"),
		inflight: make(map[int64]chan reply),
		subs:     make(map[string]map[int64]listener),
		closed:   make(chan struct{}),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", 5*time.Second, &version); err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return errors.New("rawcdp: browser ws url: empty webSocketDebuggerUrl")
	}

	slog.Debug("rawcdp connecting", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// done is closed when the read loop stops, i.e. the browser went away or
// close was called.
func (r *rawCDP) done() <-chan struct{} {
	return r.closed
}

func (r *rawCDP) readLoop(conn net.Conn) {
	defer close(r.closed)
	defer r.failInflight()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var in struct {
			frame
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			slog.Debug("rawcdp dropping malformed frame", "error", err)
			continue
		}

		switch {
		case in.ID > 0:
			r.resolve(in.ID, in.frame)
		case in.Method != "":
			r.emit(in.Method, in.SessionID, in.Params)
		}
	}
}

func (r *rawCDP) resolve(id int64, in frame) {
	r.mu.Lock()
	ch, ok := r.inflight[id]
	delete(r.inflight, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if in.Error != nil {
		ch <- reply{err: fmt.Errorf("%s (%d)", in.Error.Message, in.Error.Code)}
		return
	}
	ch <- reply{result: in.Result}
}

func (r *rawCDP) failInflight() {
	r.mu.Lock()
	pending := r.inflight
	r.inflight = make(map[int64]chan reply)
	r.mu.Unlock()
	for _, ch := range pending {
		ch <- reply{err: errConnClosed}
	}
}

func (r *rawCDP) forget(id int64) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// send issues a browser-level command.
func (r *rawCDP) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return r.sendFlat(ctx, "", method, params)
}

// sendFlat issues a command on a flattened session and waits for its result.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := r.ids.Add(1)
	data, err := json.Marshal(frame{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return nil, fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan reply, 1)
	r.mu.Lock()
	conn := r.conn
	if conn != nil {
		r.inflight[id] = ch
	}
	r.mu.Unlock()
	if conn == nil {
		return nil, errors.New("rawcdp: not connected")
	}

	r.writeMu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.writeMu.Unlock()
	if err != nil {
		r.forget(id)
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, fmt.Errorf("rawcdp: %s: %w", method, rep.err)
		}
		return rep.result, nil
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	}
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	raw, err := r.send(ctx, target.CommandAttachToTarget, map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rawcdp: decode attach: %w", err)
	}
	return out.SessionID, nil
}

// detachFromTarget drops the session; the target itself stays open.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	_, err := r.send(ctx, target.CommandDetachFromTarget, map[string]string{"sessionId": sessionID})
	return err
}

// listTargets reads /json/list. It works before connect.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", 10*time.Second, &entries); err != nil {
		return nil, err
	}
	infos := make([]*target.Info, len(entries))
	for i, e := range entries {
		infos[i] = &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL}
	}
	return infos, nil
}

// registerEventHandler subscribes fn to a CDP event method across all
// sessions. The returned func unsubscribes.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.ids.Add(1)
	r.mu.Lock()
	if r.subs[method] == nil {
		r.subs[method] = make(map[int64]listener)
	}
	r.subs[method][id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs[method], id)
		if len(r.subs[method]) == 0 {
			delete(r.subs, method)
		}
		r.mu.Unlock()
	}
}

func (r *rawCDP) emit(method, sessionID string, params json.RawMessage) {
	r.mu.Lock()
	fns := make([]listener, 0, len(r.subs[method]))
	for _, fn := range r.subs[method] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(sessionID, params)
	}
}

func (r *rawCDP) getJSON(ctx context.Context, path string, timeout time.Duration, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
