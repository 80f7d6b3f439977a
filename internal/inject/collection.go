package inject

import (
	"fmt"
	"log/slog"
	"sync"
)

// Collection is a set of installed scripts addressed by name.
type Collection interface {
	Find(name string) []*Script
	Remove(s *Script) error
	Insert(s *Script) error
}

// Install replaces scripts in target by name. Every same-named entry for every
// script in the batch is removed before any script is inserted.
func Install(target Collection, scripts ...*Script) error {
	for _, s := range scripts {
		for _, existing := range target.Find(s.Name) {
			if err := target.Remove(existing); err != nil {
				return fmt.Errorf("inject: remove %q: %w", s.Name, err)
			}
		}
	}
	for _, s := range scripts {
		if err := target.Insert(s); err != nil {
			return fmt.Errorf("inject: insert %q: %w", s.Name, err)
		}
		slog.Debug("script installed", "name", s.Name, "world", s.World.String(), "bytes", len(s.Source))
	}
	return nil
}

// MemoryCollection keeps scripts in insertion order.
type MemoryCollection struct {
	mu      sync.RWMutex
	scripts []*Script
}

// NewMemoryCollection returns an empty collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{}
}

func (c *MemoryCollection) Find(name string) []*Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Script
	for _, s := range c.scripts {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (c *MemoryCollection) Remove(s *Script) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.scripts {
		if existing == s {
			c.scripts = append(c.scripts[:i:i], c.scripts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("script %q not in collection", s.Name)
}

func (c *MemoryCollection) Insert(s *Script) error {
	c.mu.Lock()
	c.scripts = append(c.scripts, s)
	c.mu.Unlock()
	return nil
}

// All returns the scripts in insertion order.
func (c *MemoryCollection) All() []*Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Script, len(c.scripts))
	copy(out, c.scripts)
	return out
}
