package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/controller"
	"github.com/dgnsrekt/tabtalk/internal/paster"
)

func registerTabHandlers(api huma.API, svc Service, broker *bus.Broker) {
	type listTabsOutput struct {
		Body struct {
			Tabs []controller.TabView `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List browser tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.Tabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			if out.Body.Tabs == nil {
				out.Body.Tabs = []controller.TabView{}
			}
			return out, nil
		})

	type healthOutput struct {
		Body struct {
			Status       string `json:"status"`
			CDPConnected bool   `json:"cdp_connected"`
			Tabs         int    `json:"tabs"`
			Busy         bool   `json:"busy"`
			EventClients int    `json:"event_clients"`
			// EventsDropped counts messages skipped for slow subscribers.
			EventsDropped int64 `json:"events_dropped"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			tabs, err := svc.Tabs(ctx)
			if err != nil {
				out.Body.Status = "degraded"
			} else {
				out.Body.CDPConnected = true
				out.Body.Tabs = len(tabs)
			}
			out.Body.Busy = svc.State().Busy
			if broker != nil {
				out.Body.EventClients = broker.ClientCount()
				out.Body.EventsDropped = broker.Dropped()
			}
			return out, nil
		})
}

type collectBody struct {
	TabIDs           []string `json:"tab_ids" required:"true" minItems:"1" doc:"Tabs to collect, in order"`
	Provider         string   `json:"llm_provider,omitempty" doc:"LLM provider id; empty uses the configured default" example:"chatgpt"`
	PromptID         string   `json:"prompt_id,omitempty" doc:"Saved prompt id"`
	PromptContent    string   `json:"prompt_content,omitempty" doc:"Inline prompt, overrides prompt_id"`
	LocalFiles       []string `json:"local_files,omitempty" doc:"Paths on the daemon host attached after the tabs"`
	DestinationTabID string   `json:"destination_tab_id,omitempty" doc:"Paste into this tab instead of choosing one"`
}

func (b collectBody) request() controller.Request {
	return controller.Request{
		TabIDs:           b.TabIDs,
		Provider:         b.Provider,
		PromptID:         b.PromptID,
		PromptContent:    b.PromptContent,
		LocalFiles:       b.LocalFiles,
		DestinationTabID: b.DestinationTabID,
	}
}

func registerRoundHandlers(api huma.API, svc Service) {
	type roundOutput struct {
		Body controller.RoundView
	}

	huma.Register(api, huma.Operation{OperationID: "collect", Method: http.MethodPost, Path: "/api/v1/collect", Summary: "Collect tabs and paste them into an LLM chat", Tags: []string{"Rounds"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct {
			Body collectBody
		}) (*roundOutput, error) {
			view, err := svc.Collect(ctx, input.Body.request())
			if err != nil {
				return nil, mapErr(err)
			}
			return &roundOutput{Body: view}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "download", Method: http.MethodPost, Path: "/api/v1/download", Summary: "Collect tabs into Markdown files", Tags: []string{"Rounds"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct {
			Body struct {
				TabIDs []string `json:"tab_ids" required:"true" minItems:"1"`
			}
		}) (*roundOutput, error) {
			view, err := svc.Download(ctx, input.Body.TabIDs)
			if err != nil {
				return nil, mapErr(err)
			}
			return &roundOutput{Body: view}, nil
		})

	type clickOutput struct {
		Body controller.ClickResult
	}
	huma.Register(api, huma.Operation{OperationID: "action-click", Method: http.MethodPost, Path: "/api/v1/action/click", Summary: "Action button click", Description: "A single click collects and pastes; a second click within the double-click window downloads instead.", Tags: []string{"Rounds"}},
		func(ctx context.Context, input *struct {
			Body struct {
				TabIDs        []string `json:"tab_ids,omitempty" doc:"Highlighted tabs; one or none uses the active tab"`
				Provider      string   `json:"llm_provider,omitempty"`
				PromptID      string   `json:"prompt_id,omitempty"`
				PromptContent string   `json:"prompt_content,omitempty"`
			}
		}) (*clickOutput, error) {
			res, err := svc.Click(ctx, input.Body.TabIDs, controller.Request{
				Provider:      input.Body.Provider,
				PromptID:      input.Body.PromptID,
				PromptContent: input.Body.PromptContent,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &clickOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-round", Method: http.MethodGet, Path: "/api/v1/round", Summary: "Current round state", Tags: []string{"Rounds"}},
		func(ctx context.Context, input *struct{}) (*roundOutput, error) {
			return &roundOutput{Body: svc.State()}, nil
		})

	type selectedOutput struct {
		Body paster.SelectedTabsData
	}
	huma.Register(api, huma.Operation{OperationID: "get-selected-tabs", Method: http.MethodGet, Path: "/api/v1/selected-tabs", Summary: "Prepared files of the last round", Tags: []string{"Rounds"}},
		func(ctx context.Context, input *struct{}) (*selectedOutput, error) {
			return &selectedOutput{Body: svc.SelectedTabsData()}, nil
		})

	type pasteOutput struct {
		Body struct {
			Completed bool `json:"completed"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "paste-complete", Method: http.MethodPost, Path: "/api/v1/paste-complete", Summary: "Report that the paste finished", Tags: []string{"Rounds"}},
		func(ctx context.Context, input *struct {
			Body struct {
				TabID string `json:"tab_id,omitempty" doc:"Destination tab; empty matches any"`
			}
		}) (*pasteOutput, error) {
			out := &pasteOutput{}
			out.Body.Completed = svc.PasteComplete(input.Body.TabID)
			return out, nil
		})
}
