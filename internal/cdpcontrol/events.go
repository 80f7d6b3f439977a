package cdpcontrol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
)

// OnTitleChanged calls fn whenever the page title changes.
func (p *Page) OnTitleChanged(fn func(title string)) func() {
	var (
		mu   sync.Mutex
		last *string
	)
	return p.OnEvent(string(cdproto.EventTargetTargetInfoChanged), func(params json.RawMessage) {
		var ev struct {
			TargetInfo struct {
				TargetID string `json:"targetId"`
				Title    string `json:"title"`
			} `json:"targetInfo"`
		}
		if json.Unmarshal(params, &ev) != nil || ev.TargetInfo.TargetID != string(p.targetID) {
			return
		}
		mu.Lock()
		changed := last == nil || *last != ev.TargetInfo.Title
		title := ev.TargetInfo.Title
		last = &title
		mu.Unlock()
		if changed {
			fn(title)
		}
	})
}

// OnConsole calls fn for every console API call made by the page.
func (p *Page) OnConsole(fn func(ConsoleEvent)) func() {
	return p.OnEvent(string(cdproto.EventRuntimeConsoleAPICalled), func(params json.RawMessage) {
		var ev struct {
			Type string `json:"type"`
			Args []struct {
				Type        string          `json:"type"`
				Value       json.RawMessage `json:"value"`
				Description string          `json:"description"`
			} `json:"args"`
			StackTrace *struct {
				CallFrames []struct {
					URL        string `json:"url"`
					LineNumber int    `json:"lineNumber"`
				} `json:"callFrames"`
			} `json:"stackTrace"`
		}
		if json.Unmarshal(params, &ev) != nil {
			return
		}

		parts := make([]string, 0, len(ev.Args))
		for _, a := range ev.Args {
			parts = append(parts, consoleArg(a.Type, a.Value, a.Description))
		}
		out := ConsoleEvent{Level: ev.Type, Message: strings.Join(parts, " ")}
		if ev.StackTrace != nil && len(ev.StackTrace.CallFrames) > 0 {
			top := ev.StackTrace.CallFrames[0]
			out.Source = top.URL
			out.Line = top.LineNumber + 1
		}
		fn(out)
	})
}

func consoleArg(typ string, value json.RawMessage, description string) string {
	if typ == "string" {
		var s string
		if json.Unmarshal(value, &s) == nil {
			return s
		}
	}
	if len(value) > 0 {
		return string(value)
	}
	if description != "" {
		return description
	}
	return typ
}

// OnCrash calls fn at most once when the page's render process dies.
func (p *Page) OnCrash(fn func(CrashEvent)) func() {
	var once sync.Once
	report := func(ev CrashEvent) { once.Do(func() { fn(ev) }) }

	offTarget := p.OnEvent(string(cdproto.EventTargetTargetCrashed), func(params json.RawMessage) {
		var ev struct {
			TargetID  string `json:"targetId"`
			Status    string `json:"status"`
			ErrorCode int    `json:"errorCode"`
		}
		if json.Unmarshal(params, &ev) != nil || ev.TargetID != string(p.targetID) {
			return
		}
		report(CrashEvent{
			Crashed:  isCrashStatus(ev.Status),
			Status:   ev.Status,
			ExitCode: ev.ErrorCode,
		})
	})
	offInspector := p.OnEvent(string(cdproto.EventInspectorTargetCrashed), func(json.RawMessage) {
		report(CrashEvent{Crashed: true, Status: "crashed", ExitCode: -1})
	})
	return func() {
		offTarget()
		offInspector()
	}
}

func isCrashStatus(status string) bool {
	s := strings.ToLower(status)
	return s == "" || strings.Contains(s, "crash")
}

// OnDestroyed calls fn when the page target is closed.
func (p *Page) OnDestroyed(fn func()) func() {
	return p.OnEvent(string(cdproto.EventTargetTargetDestroyed), func(params json.RawMessage) {
		var ev struct {
			TargetID string `json:"targetId"`
		}
		if json.Unmarshal(params, &ev) != nil || ev.TargetID != string(p.targetID) {
			return
		}
		fn()
	})
}

// ExitCodeText renders an exit code for user-facing messages.
func (e CrashEvent) ExitCodeText() string {
	if e.ExitCode < 0 {
		return "unknown"
	}
	return fmt.Sprint(e.ExitCode)
}
