package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/iv/internal/bridge"
	"github.com/dgnsrekt/iv/internal/cdpcontrol"
	"github.com/dgnsrekt/iv/internal/controller"
	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/relay"
	"github.com/dgnsrekt/iv/internal/settings"
)

type Service interface {
	Status(ctx context.Context) (controller.Status, error)
	Settings(ctx context.Context) (settings.Config, error)
	UpdateSettings(ctx context.Context, patch map[string]any) (settings.Config, error)
	Files(ctx context.Context) ([]files.Record, error)
	Refresh(ctx context.Context) (int, error)
	Call(ctx context.Context, fn string, args []any) (controller.CallResult, error)
}

// NewServer returns the control API. Session events are streamed from broker
// when it is non-nil.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("iv Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlHandler(docsHTML))
	router.Get("/docs/events", htmlHandler(eventsDocsHTML))
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerMiscHandlers(api, svc)
	registerSettingsHandlers(api, svc)
	registerViewerHandlers(api, svc)

	return router
}

func htmlHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTargetNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, bridge.ErrTornDown):
		return huma.Error503ServiceUnavailable("viewer session closed")
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
