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
	"github.com/rs/cors"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/config"
	"github.com/dgnsrekt/tabtalk/internal/controller"
	"github.com/dgnsrekt/tabtalk/internal/download"
	"github.com/dgnsrekt/tabtalk/internal/paster"
	"github.com/dgnsrekt/tabtalk/internal/provider"
)

// Service is the coordinator surface served over HTTP.
type Service interface {
	Tabs(ctx context.Context) ([]controller.TabView, error)
	Click(ctx context.Context, tabIDs []string, req controller.Request) (controller.ClickResult, error)
	Collect(ctx context.Context, req controller.Request) (controller.RoundView, error)
	Download(ctx context.Context, tabIDs []string) (controller.RoundView, error)
	State() controller.RoundView
	SelectedTabsData() paster.SelectedTabsData
	PasteComplete(tabID string) bool
	Caption(videoID string) (string, bool)
	NotionMarkdown(pageID string) (string, bool)
	OpenPromptsEditor(promptID string) error
}

// Options carries the read-only registries and stores the API exposes next
// to the coordinator.
type Options struct {
	Broker      *bus.Broker
	Prompts     *config.Prompts
	Providers   *provider.Registry
	Downloads   *download.Store
	CORSOrigins []string
	Version     string
}

const apiTitle = "tabtalk API"

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}).Handler)
	}

	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	cfg := huma.DefaultConfig(apiTitle, version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	docs := docsPage(apiTitle, version)
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(docs); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if opts.Broker != nil {
		router.Get("/api/v1/events", bus.SSEHandler(opts.Broker))
	}

	registerTabHandlers(api, svc, opts.Broker)
	registerRoundHandlers(api, svc)
	registerCacheHandlers(api, svc)
	registerLibraryHandlers(api, svc, opts.Prompts, opts.Providers)
	registerDownloadHandlers(api, opts.Downloads)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, download.ErrInvalidID):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, download.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation, cdpcontrol.CodeUnknownProvider:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound, cdpcontrol.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeBusy:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeAPIUnavailable, cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
