package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/iv/internal/controller"
	"github.com/dgnsrekt/iv/internal/files"
)

func registerViewerHandlers(api huma.API, svc Service) {
	type filesOutput struct {
		Body struct {
			Files []files.Record `json:"files"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-files", Method: http.MethodGet, Path: "/api/v1/files", Summary: "List the files shown in the grid", Tags: []string{"Viewer"}},
		func(ctx context.Context, input *struct{}) (*filesOutput, error) {
			records, err := svc.Files(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &filesOutput{}
			out.Body.Files = records
			return out, nil
		})

	type refreshOutput struct {
		Body struct {
			Files int `json:"files"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "refresh-files", Method: http.MethodPost, Path: "/api/v1/refresh", Summary: "Re-read the file arguments and refresh the grid", Tags: []string{"Viewer"}},
		func(ctx context.Context, input *struct{}) (*refreshOutput, error) {
			n, err := svc.Refresh(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &refreshOutput{}
			out.Body.Files = n
			return out, nil
		})

	type callInput struct {
		Func string `path:"func" doc:"Page function name, optionally dotted (e.g. image_changed)"`
		Body struct {
			Args []any `json:"args,omitempty" doc:"Positional arguments passed to the function"`
		}
	}
	type callOutput struct {
		Body controller.CallResult
	}
	huma.Register(api, huma.Operation{OperationID: "call-page-function", Method: http.MethodPost, Path: "/api/v1/call/{func}", Summary: "Call a page function in the application world", Tags: []string{"Viewer"}},
		func(ctx context.Context, input *callInput) (*callOutput, error) {
			res, err := svc.Call(ctx, input.Func, input.Body.Args)
			if err != nil {
				return nil, mapErr(err)
			}
			return &callOutput{Body: res}, nil
		})
}
