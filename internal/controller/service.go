package controller

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/dgnsrekt/iv/internal/bridge"
	"github.com/dgnsrekt/iv/internal/cdpcontrol"
	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/loop"
	"github.com/dgnsrekt/iv/internal/settings"
)

// Viewer is the session the service controls. *session.View satisfies it.
type Viewer interface {
	ID() string
	Title() *string
	Files() []files.Record
	Refresh()
	Bridge() *bridge.Bridge
}

// Status summarizes the running session.
type Status struct {
	SessionID string  `json:"session_id"`
	Title     *string `json:"title"`
	Files     int     `json:"files"`
	State     string  `json:"state"`
}

// CallResult is a page function's return value rendered as text.
type CallResult struct {
	Result string `json:"result"`
}

// Service runs control operations on the loop on behalf of the HTTP API.
type Service struct {
	loop     *loop.Loop
	view     Viewer
	settings *settings.Store
}

func NewService(l *loop.Loop, view Viewer, store *settings.Store) *Service {
	return &Service{loop: l, view: view, settings: store}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// run executes fn on the loop and waits for it or for ctx.
func (s *Service) run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if !s.loop.Post(func() { done <- fn() }) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "viewer is shutting down"}
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.run(ctx, func() error {
		st = Status{
			SessionID: s.view.ID(),
			Title:     s.view.Title(),
			Files:     len(s.view.Files()),
			State:     s.view.Bridge().State().String(),
		}
		return nil
	})
	return st, err
}

func (s *Service) Settings(ctx context.Context) (settings.Config, error) {
	var out settings.Config
	err := s.run(ctx, func() error {
		cfg, err := s.settings.Read()
		if err != nil {
			return err
		}
		out = maps.Clone(cfg)
		return nil
	})
	return out, err
}

func (s *Service) UpdateSettings(ctx context.Context, patch map[string]any) (settings.Config, error) {
	if len(patch) == 0 {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "patch is empty"}
	}
	var out settings.Config
	err := s.run(ctx, func() error {
		if err := s.settings.Update(patch); err != nil {
			return err
		}
		cfg, err := s.settings.Read()
		if err != nil {
			return err
		}
		out = maps.Clone(cfg)
		return nil
	})
	return out, err
}

func (s *Service) Files(ctx context.Context) ([]files.Record, error) {
	var out []files.Record
	err := s.run(ctx, func() error {
		out = append([]files.Record{}, s.view.Files()...)
		return nil
	})
	return out, err
}

// Refresh re-enumerates the viewer's files and returns how many were found.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		if s.view.Bridge().State() == bridge.TornDown {
			return bridge.ErrTornDown
		}
		s.view.Refresh()
		n = len(s.view.Files())
		return nil
	})
	return n, err
}

// Call invokes a page function in the application world and waits for its
// result. A session torn down mid-call yields bridge.ErrTornDown.
func (s *Service) Call(ctx context.Context, fn string, args []any) (CallResult, error) {
	if err := s.requireNonEmpty(fn, "func"); err != nil {
		return CallResult{}, err
	}
	type outcome struct {
		result string
		err    error
	}
	results := make(chan outcome, 1)
	b := s.view.Bridge()
	err := s.run(ctx, func() error {
		err := b.CallWithResult(strings.TrimSpace(fn), func(result string, err error) {
			results <- outcome{result: result, err: err}
		}, args...)
		if err != nil && !errors.Is(err, bridge.ErrTornDown) {
			return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error()}
		}
		return err
	})
	if err != nil {
		return CallResult{}, err
	}
	select {
	case out := <-results:
		return CallResult{Result: out.result}, out.err
	case <-b.Done():
		select {
		case out := <-results:
			return CallResult{Result: out.result}, out.err
		default:
		}
		return CallResult{}, bridge.ErrTornDown
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	}
}
