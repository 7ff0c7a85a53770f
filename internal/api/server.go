// Package api serves the runtime operations of the title engine over HTTP.
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

	"github.com/dgnsrekt/window_titler/internal/controller"
	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/relay"
	"github.com/dgnsrekt/window_titler/internal/settings"
	"github.com/dgnsrekt/window_titler/internal/titler"
)

type Service interface {
	Status(ctx context.Context) (controller.Status, error)
	ListWindows(ctx context.Context) ([]titler.WindowState, error)
	SetWindowName(ctx context.Context, id host.WindowID, name string) error
	SetWindowSettings(ctx context.Context, id host.WindowID, ws titler.WindowSettings) error
	WindowDataChanged(ctx context.Context, id host.WindowID) error
	ClearPrefixes(ctx context.Context) error
	ReapplyPrefixes(ctx context.Context) error
	ClearWindowData(ctx context.Context) error
	NameAllWindows(ctx context.Context, name string) error
	GetSettings(ctx context.Context) (settings.Settings, error)
	PutSettings(ctx context.Context, next settings.Settings) (settings.Settings, error)
	PreviewFormat(ctx context.Context, id host.WindowID, titleFormat string) (string, error)
}

type windowIDInput struct {
	WindowID int64 `path:"window_id" doc:"Browser window id"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer builds the router. events may be nil, in which case the event
// stream is not mounted.
func NewServer(svc Service, events *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Window Titler API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if events != nil {
		router.Get("/api/v1/events", relay.SSEHandler(events))
	}

	registerHealthHandlers(api, svc)
	registerWindowHandlers(api, svc)
	registerPrefixHandlers(api, svc)
	registerSettingsHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*struct{ Body controller.Status }, error) {
			st, err := svc.Status(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body controller.Status }{Body: st}, nil
		})
}

func registerWindowHandlers(api huma.API, svc Service) {
	type windowsOutput struct {
		Body struct {
			Windows []titler.WindowState `json:"windows"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-windows", Method: http.MethodGet, Path: "/api/v1/windows", Summary: "List tracked windows", Tags: []string{"Windows"}},
		func(ctx context.Context, input *struct{}) (*windowsOutput, error) {
			windows, err := svc.ListWindows(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &windowsOutput{}
			out.Body.Windows = windows
			return out, nil
		})

	type nameInput struct {
		WindowID int64 `path:"window_id" doc:"Browser window id"`
		Body     struct {
			Name string `json:"name" doc:"Window name; empty clears it"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-window-name", Method: http.MethodPut, Path: "/api/v1/windows/{window_id}/name", Summary: "Set a window's name", Tags: []string{"Windows"}},
		func(ctx context.Context, input *nameInput) (*statusOutput, error) {
			if err := svc.SetWindowName(ctx, host.WindowID(input.WindowID), input.Body.Name); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("updated"), nil
		})

	type settingsInput struct {
		WindowID int64 `path:"window_id" doc:"Browser window id"`
		Body     titler.WindowSettings
	}
	huma.Register(api, huma.Operation{OperationID: "set-window-settings", Method: http.MethodPut, Path: "/api/v1/windows/{window_id}/settings", Summary: "Set a window's prefix override", Tags: []string{"Windows"}},
		func(ctx context.Context, input *settingsInput) (*statusOutput, error) {
			if err := svc.SetWindowSettings(ctx, host.WindowID(input.WindowID), input.Body); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("updated"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "window-data-changed", Method: http.MethodPost, Path: "/api/v1/windows/{window_id}/data-changed", Summary: "Reload a window's session data", Tags: []string{"Windows"}},
		func(ctx context.Context, input *windowIDInput) (*statusOutput, error) {
			if err := svc.WindowDataChanged(ctx, host.WindowID(input.WindowID)); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("reloaded"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-window-data", Method: http.MethodDelete, Path: "/api/v1/window-data", Summary: "Clear every window's name and settings", Tags: []string{"Windows"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ClearWindowData(ctx); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("cleared"), nil
		})

	type nameAllInput struct {
		Body struct {
			Name string `json:"name" doc:"Name applied to every window"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "name-all-windows", Method: http.MethodPost, Path: "/api/v1/window-data/name-all", Summary: "Apply a name to all windows", Tags: []string{"Windows"}},
		func(ctx context.Context, input *nameAllInput) (*statusOutput, error) {
			if err := svc.NameAllWindows(ctx, input.Body.Name); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("updated"), nil
		})
}

func registerPrefixHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "clear-prefixes", Method: http.MethodPost, Path: "/api/v1/prefixes/clear", Summary: "Remove every prefix now", Tags: []string{"Prefixes"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ClearPrefixes(ctx); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("cleared"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "reapply-prefixes", Method: http.MethodPost, Path: "/api/v1/prefixes/reapply", Summary: "Recompute and rewrite every prefix", Tags: []string{"Prefixes"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ReapplyPrefixes(ctx); err != nil {
				return nil, mapErr(err)
			}
			return okOutput("reapplied"), nil
		})

	type previewInput struct {
		Body struct {
			WindowID int64  `json:"window_id" doc:"Window to render for"`
			Format   string `json:"format" doc:"Format string to render"`
		}
	}
	type previewOutput struct {
		Body struct {
			Prefix string `json:"prefix"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "preview-format", Method: http.MethodPost, Path: "/api/v1/format/preview", Summary: "Render a format for one window", Tags: []string{"Prefixes"}},
		func(ctx context.Context, input *previewInput) (*previewOutput, error) {
			prefix, err := svc.PreviewFormat(ctx, host.WindowID(input.Body.WindowID), input.Body.Format)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &previewOutput{}
			out.Body.Prefix = prefix
			return out, nil
		})
}

func registerSettingsHandlers(api huma.API, svc Service) {
	type settingsOutput struct {
		Body settings.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Read settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			s, err := svc.GetSettings(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: s}, nil
		})

	type putSettingsInput struct {
		Body settings.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "put-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Replace settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *putSettingsInput) (*settingsOutput, error) {
			s, err := svc.PutSettings(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: s}, nil
		})
}

func okOutput(status string) *statusOutput {
	out := &statusOutput{}
	out.Body.Status = status
	return out
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeWindowNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeDisabled:
			return huma.Error409Conflict(coded.Message)
		case controller.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
