package cdpcontrol

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type cdpHandler func(b *fakeBrowser, call cdpCall) (any, error)

// fakeBrowser speaks just enough of the DevTools protocol for client tests.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]cdpHandler
	calls    []cdpCall
	targets  []map[string]any
	conn     net.Conn
	writeMu  sync.Mutex
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	b := &fakeBrowser{
		t:        t,
		handlers: make(map[string]cdpHandler),
		targets: []map[string]any{
			{"id": "target-1", "type": "page", "url": "about:blank", "title": ""},
			{"id": "worker-1", "type": "service_worker", "url": "https://example.com/sw.js"},
		},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serveHTTP))
	t.Cleanup(b.close)
	return b
}

func (b *fakeBrowser) URL() string { return b.srv.URL }

func (b *fakeBrowser) close() {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
	b.srv.Close()
}

func (b *fakeBrowser) handle(method string, h cdpHandler) {
	b.mu.Lock()
	b.handlers[method] = h
	b.mu.Unlock()
}

func (b *fakeBrowser) callsTo(method string) []cdpCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []cdpCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBrowser) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/json/version":
		wsURL := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "HeadlessChrome/130.0.0.0",
			"webSocketDebuggerUrl": wsURL,
		})
	case r.URL.Path == "/json/list":
		b.mu.Lock()
		targets := b.targets
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(targets)
	case strings.HasPrefix(r.URL.Path, "/devtools/browser/"):
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			b.t.Errorf("upgrade: %v", err)
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		go b.serveConn(conn)
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBrowser) serveConn(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		call := cdpCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params}

		b.mu.Lock()
		b.calls = append(b.calls, call)
		h := b.handlers[req.Method]
		b.mu.Unlock()

		var result any = map[string]any{}
		var herr error
		if h != nil {
			result, herr = h(b, call)
		}

		resp := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			resp["sessionId"] = req.SessionID
		}
		if herr != nil {
			resp["error"] = map[string]any{"code": -32000, "message": herr.Error()}
		} else {
			resp["result"] = result
		}
		b.write(resp)
	}
}

// emit sends an event; sessionID "" makes it a browser-level event.
func (b *fakeBrowser) emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	b.write(msg)
}

func (b *fakeBrowser) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.t.Errorf("marshal: %v", err)
		return
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = wsutil.WriteServerText(conn, data)
}

// withPageDefaults installs handlers for the commands every attach issues.
func (b *fakeBrowser) withPageDefaults() *fakeBrowser {
	b.handle("Target.attachToTarget", func(*fakeBrowser, cdpCall) (any, error) {
		return map[string]any{"sessionId": "session-1"}, nil
	})
	b.handle("Browser.getVersion", func(*fakeBrowser, cdpCall) (any, error) {
		return map[string]any{
			"product":   "HeadlessChrome/130.0.0.0",
			"userAgent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/130.0.0.0 Safari/537.36",
		}, nil
	})
	return b
}

var errFake = errors.New("fake failure")
