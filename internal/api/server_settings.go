package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/iv/internal/settings"
)

type settingsOutput struct {
	Body settings.Config
}

func registerSettingsHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get viewer settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			cfg, err := svc.Settings(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: cfg}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "patch-settings", Method: http.MethodPatch, Path: "/api/v1/settings", Summary: "Merge keys into the viewer settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct {
			Body map[string]any
		}) (*settingsOutput, error) {
			cfg, err := svc.UpdateSettings(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: cfg}, nil
		})
}
