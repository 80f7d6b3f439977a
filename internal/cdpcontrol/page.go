package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/iv/internal/inject"
)

// Page is an attached page target. Scripts evaluate in either the page's main
// world or a named isolated world.
type Page struct {
	owner       *Client
	cdp         *rawCDP
	targetID    target.ID
	sessionID   string
	evalTimeout time.Duration

	mu      sync.Mutex
	worlds  map[string]cdpruntime.ExecutionContextID
	unsubs  []func()
	closed  bool
	scripts *ScriptSet
}

func newPage(owner *Client, cdp *rawCDP, targetID target.ID, sessionID string, evalTimeout time.Duration) *Page {
	p := &Page{
		owner:       owner,
		cdp:         cdp,
		targetID:    targetID,
		sessionID:   sessionID,
		evalTimeout: evalTimeout,
		worlds:      make(map[string]cdpruntime.ExecutionContextID),
	}
	p.scripts = &ScriptSet{page: p}
	return p
}

// TargetID returns the page's target id.
func (p *Page) TargetID() string {
	return string(p.targetID)
}

func (p *Page) enable(ctx context.Context) error {
	p.track()
	for _, method := range []string{cdpruntime.CommandEnable, page.CommandEnable, inspector.CommandEnable} {
		if _, err := p.cdp.sendFlat(ctx, p.sessionID, method, nil); err != nil {
			return newError(CodeCDPUnavailable, "enable "+method+" failed", err)
		}
	}
	return nil
}

// track follows execution contexts so evaluations in a named world reuse the
// context of the current document.
func (p *Page) track() {
	p.addUnsub(p.OnEvent(string(cdproto.EventRuntimeExecutionContextCreated), func(params json.RawMessage) {
		var ev struct {
			Context struct {
				ID      cdpruntime.ExecutionContextID `json:"id"`
				Name    string                        `json:"name"`
				AuxData struct {
					FrameID string `json:"frameId"`
					Type    string `json:"type"`
				} `json:"auxData"`
			} `json:"context"`
		}
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		if ev.Context.Name == "" || ev.Context.AuxData.FrameID != string(p.targetID) {
			return
		}
		p.mu.Lock()
		p.worlds[ev.Context.Name] = ev.Context.ID
		p.mu.Unlock()
		slog.Debug("cdpcontrol world context created", "target_id", p.targetID, "world", ev.Context.Name, "context_id", ev.Context.ID)
	}))
	p.addUnsub(p.OnEvent(string(cdproto.EventRuntimeExecutionContextDestroyed), func(params json.RawMessage) {
		var ev struct {
			ID cdpruntime.ExecutionContextID `json:"executionContextId"`
		}
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		p.forgetContext(ev.ID)
	}))
	p.addUnsub(p.OnEvent(string(cdproto.EventRuntimeExecutionContextsCleared), func(json.RawMessage) {
		p.mu.Lock()
		clear(p.worlds)
		p.mu.Unlock()
	}))
}

func (p *Page) forgetContext(id cdpruntime.ExecutionContextID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, ctxID := range p.worlds {
		if ctxID == id {
			delete(p.worlds, name)
		}
	}
}

func (p *Page) addUnsub(fn func()) {
	p.mu.Lock()
	p.unsubs = append(p.unsubs, fn)
	p.mu.Unlock()
}

// OnEvent subscribes to a CDP event of this page. Browser-level events (no
// session) are delivered too; callers filter them by target id.
func (p *Page) OnEvent(method string, fn func(params json.RawMessage)) func() {
	return p.cdp.registerEventHandler(method, func(sessionID string, params json.RawMessage) {
		if sessionID != "" && sessionID != p.sessionID {
			return
		}
		fn(params)
	})
}

func (p *Page) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.evalTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.evalTimeout)
}

// Evaluate runs expression in world and returns its value. Promises are
// awaited.
func (p *Page) Evaluate(ctx context.Context, expression string, world inject.World) (Value, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := struct {
		Expression    string                        `json:"expression"`
		ContextID     cdpruntime.ExecutionContextID `json:"contextId,omitempty"`
		ReturnByValue bool                          `json:"returnByValue"`
		AwaitPromise  bool                          `json:"awaitPromise"`
	}{Expression: expression, ReturnByValue: true, AwaitPromise: true}

	if name := world.Name(); name != "" {
		id, err := p.worldContext(ctx, name)
		if err != nil {
			return Value{}, err
		}
		params.ContextID = id
	}

	raw, err := p.cdp.sendFlat(ctx, p.sessionID, cdpruntime.CommandEvaluate, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Value{}, newError(CodeEvalTimeout, "evaluate timed out", err)
		}
		if params.ContextID != 0 && strings.Contains(err.Error(), "Cannot find context") {
			p.forgetContext(params.ContextID)
		}
		return Value{}, newError(CodeEvalFailure, "evaluate failed", err)
	}

	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Value{}, newError(CodeEvalFailure, "decode evaluate result failed", err)
	}
	if d := resp.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return Value{}, newError(CodeEvalFailure, "page exception", errors.New(msg))
	}
	return Value{Type: resp.Result.Type, Raw: resp.Result.Value}, nil
}

// worldContext returns the execution context of the named world in the main
// frame, creating the world when no context has been reported yet.
func (p *Page) worldContext(ctx context.Context, name string) (cdpruntime.ExecutionContextID, error) {
	p.mu.Lock()
	id, ok := p.worlds[name]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	params := struct {
		FrameID   string `json:"frameId"`
		WorldName string `json:"worldName"`
	}{FrameID: string(p.targetID), WorldName: name}
	raw, err := p.cdp.sendFlat(ctx, p.sessionID, page.CommandCreateIsolatedWorld, params)
	if err != nil {
		return 0, newError(CodeEvalFailure, "create isolated world failed", err)
	}
	var resp struct {
		ID cdpruntime.ExecutionContextID `json:"executionContextId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, newError(CodeEvalFailure, "decode isolated world failed", err)
	}

	p.mu.Lock()
	p.worlds[name] = resp.ID
	p.mu.Unlock()
	return resp.ID, nil
}

// AddScript registers s to run in every new document of the page, and in the
// current one.
func (p *Page) AddScript(ctx context.Context, s *inject.Script) (page.ScriptIdentifier, error) {
	params := struct {
		Source         string `json:"source"`
		WorldName      string `json:"worldName,omitempty"`
		RunImmediately bool   `json:"runImmediately"`
	}{Source: s.Expression(), WorldName: s.World.Name(), RunImmediately: true}

	raw, err := p.cdp.sendFlat(ctx, p.sessionID, page.CommandAddScriptToEvaluateOnNewDocument, params)
	if err != nil {
		return "", newError(CodeEvalFailure, "add script "+s.Name+" failed", err)
	}
	var resp struct {
		Identifier page.ScriptIdentifier `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", newError(CodeEvalFailure, "decode add script failed", err)
	}
	return resp.Identifier, nil
}

// RemoveScript unregisters a script added with AddScript.
func (p *Page) RemoveScript(ctx context.Context, id page.ScriptIdentifier) error {
	params := struct {
		Identifier page.ScriptIdentifier `json:"identifier"`
	}{Identifier: id}
	if _, err := p.cdp.sendFlat(ctx, p.sessionID, page.CommandRemoveScriptToEvaluateOnNewDocument, params); err != nil {
		return newError(CodeEvalFailure, "remove script failed", err)
	}
	return nil
}

// Scripts returns the page's script collection.
func (p *Page) Scripts() inject.Collection {
	return p.scripts
}

// Navigate loads url in the page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	params := struct {
		URL string `json:"url"`
	}{URL: url}
	raw, err := p.cdp.sendFlat(ctx, p.sessionID, page.CommandNavigate, params)
	if err != nil {
		return newError(CodeCDPUnavailable, "navigate failed", err)
	}
	var resp struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.ErrorText != "" {
		return newError(CodeEvalFailure, "navigate failed", errors.New(resp.ErrorText))
	}
	return nil
}

// SetUserAgent overrides the user agent for the page.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	params := struct {
		UserAgent string `json:"userAgent"`
	}{UserAgent: userAgent}
	if _, err := p.cdp.sendFlat(ctx, p.sessionID, emulation.CommandSetUserAgentOverride, params); err != nil {
		return newError(CodeCDPUnavailable, "set user agent failed", err)
	}
	return nil
}

// Alert shows a modal message in the page without waiting for it to be
// dismissed.
func (p *Page) Alert(ctx context.Context, title, message string) error {
	text := message
	if title != "" {
		text = title + "\n\n" + message
	}
	expr := fmt.Sprintf("setTimeout(function(){ window.alert(%s); }, 0)", jsString(text))
	_, err := p.Evaluate(ctx, expr, inject.WorldMain)
	return err
}

func (p *Page) dispose() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.closed = true
	p.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// Close unsubscribes the page's internal handlers and detaches its session.
// The target itself stays open.
func (p *Page) Close() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}
	p.dispose()
	if p.owner != nil {
		p.owner.forget(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.cdp.detachFromTarget(ctx, p.sessionID); err != nil {
		slog.Debug("cdpcontrol detach failed", "target_id", p.targetID, "error", err)
	}
	return nil
}
