package cdpcontrol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/page"

	"github.com/dgnsrekt/iv/internal/inject"
)

// ScriptSet is the collection of scripts registered on a page. It satisfies
// inject.Collection so inject.Install can replace scripts by name.
type ScriptSet struct {
	page *Page

	mu      sync.Mutex
	entries []scriptEntry
}

type scriptEntry struct {
	script *inject.Script
	id     page.ScriptIdentifier
}

var _ inject.Collection = (*ScriptSet)(nil)

func (s *ScriptSet) Find(name string) []*inject.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inject.Script
	for _, e := range s.entries {
		if e.script.Name == name {
			out = append(out, e.script)
		}
	}
	return out
}

func (s *ScriptSet) Remove(script *inject.Script) error {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.script == script {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("script %q not registered on page", script.Name)
	}
	entry := s.entries[idx]
	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	s.mu.Unlock()

	ctx, cancel := s.page.withTimeout(context.Background())
	defer cancel()
	return s.page.RemoveScript(ctx, entry.id)
}

func (s *ScriptSet) Insert(script *inject.Script) error {
	ctx, cancel := s.page.withTimeout(context.Background())
	defer cancel()
	id, err := s.page.AddScript(ctx, script)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, scriptEntry{script: script, id: id})
	s.mu.Unlock()
	slog.Debug("cdpcontrol script registered", "target_id", s.page.targetID, "name", script.Name, "identifier", id)
	return nil
}
