package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabtalk/internal/config"
	"github.com/dgnsrekt/tabtalk/internal/download"
	"github.com/dgnsrekt/tabtalk/internal/provider"
)

func registerCacheHandlers(api huma.API, svc Service) {
	type captionOutput struct {
		Body struct {
			VideoID string  `json:"video_id"`
			Caption *string `json:"caption"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-youtube-caption", Method: http.MethodGet, Path: "/api/v1/captions/{video_id}", Summary: "Cached YouTube caption", Tags: []string{"Caches"}},
		func(ctx context.Context, input *struct {
			VideoID string `path:"video_id"`
		}) (*captionOutput, error) {
			out := &captionOutput{}
			out.Body.VideoID = input.VideoID
			if caption, ok := svc.Caption(input.VideoID); ok {
				out.Body.Caption = &caption
			}
			return out, nil
		})

	type notionOutput struct {
		Body struct {
			PageID   string  `json:"page_id"`
			Markdown *string `json:"markdown"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-notion-page-markdown", Method: http.MethodGet, Path: "/api/v1/notion/{page_id}", Summary: "Cached Notion page markdown", Tags: []string{"Caches"}},
		func(ctx context.Context, input *struct {
			PageID string `path:"page_id"`
		}) (*notionOutput, error) {
			out := &notionOutput{}
			out.Body.PageID = input.PageID
			if md, ok := svc.NotionMarkdown(input.PageID); ok {
				out.Body.Markdown = &md
			}
			return out, nil
		})
}

func registerLibraryHandlers(api huma.API, svc Service, prompts *config.Prompts, providers *provider.Registry) {
	type listPromptsOutput struct {
		Body struct {
			Prompts []config.SavedPrompt `json:"prompts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-prompts", Method: http.MethodGet, Path: "/api/v1/prompts", Summary: "List saved prompts", Tags: []string{"Prompts"}},
		func(ctx context.Context, input *struct{}) (*listPromptsOutput, error) {
			out := &listPromptsOutput{}
			out.Body.Prompts = prompts.List()
			if out.Body.Prompts == nil {
				out.Body.Prompts = []config.SavedPrompt{}
			}
			return out, nil
		})

	type promptIDInput struct {
		ID string `path:"id"`
	}
	type promptOutput struct {
		Body config.SavedPrompt
	}
	huma.Register(api, huma.Operation{OperationID: "get-prompt", Method: http.MethodGet, Path: "/api/v1/prompts/{id}", Summary: "Get saved prompt", Tags: []string{"Prompts"}},
		func(ctx context.Context, input *promptIDInput) (*promptOutput, error) {
			p, ok := prompts.Get(input.ID)
			if !ok {
				return nil, huma.Error404NotFound("prompt not found: " + input.ID)
			}
			return &promptOutput{Body: p}, nil
		})

	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "open-prompts-editor", Method: http.MethodPost, Path: "/api/v1/prompts/{id}/open", Summary: "Open the prompts file for editing", Tags: []string{"Prompts"}},
		func(ctx context.Context, input *promptIDInput) (*statusOutput, error) {
			if err := svc.OpenPromptsEditor(input.ID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "opened"
			return out, nil
		})

	type providersOutput struct {
		Body struct {
			Default   string              `json:"default"`
			Providers []provider.Provider `json:"providers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-providers", Method: http.MethodGet, Path: "/api/v1/providers", Summary: "List LLM providers", Tags: []string{"Providers"}},
		func(ctx context.Context, input *struct{}) (*providersOutput, error) {
			out := &providersOutput{}
			out.Body.Providers = []provider.Provider{}
			if providers != nil {
				out.Body.Default = providers.Default()
				out.Body.Providers = providers.List()
			}
			return out, nil
		})
}

func registerDownloadHandlers(api huma.API, store *download.Store) {
	if store == nil {
		return
	}

	type listDownloadsOutput struct {
		Body struct {
			Downloads []download.Meta `json:"downloads"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-downloads", Method: http.MethodGet, Path: "/api/v1/downloads", Summary: "List saved Markdown files", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *struct{}) (*listDownloadsOutput, error) {
			metas, err := store.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listDownloadsOutput{}
			out.Body.Downloads = metas
			if out.Body.Downloads == nil {
				out.Body.Downloads = []download.Meta{}
			}
			return out, nil
		})

	type downloadIDInput struct {
		DownloadID string `path:"download_id"`
	}
	type downloadOutput struct {
		Body download.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "get-download", Method: http.MethodGet, Path: "/api/v1/downloads/{download_id}", Summary: "Get download metadata", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *downloadIDInput) (*downloadOutput, error) {
			meta, err := store.Get(input.DownloadID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &downloadOutput{Body: meta}, nil
		})

	type contentOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-download-content",
		Method:      http.MethodGet,
		Path:        "/api/v1/downloads/{download_id}/content",
		Summary:     "Get the Markdown file",
		Tags:        []string{"Downloads"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Markdown file",
				Content: map[string]*huma.MediaType{
					"text/markdown": {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *downloadIDInput) (*contentOutput, error) {
		data, meta, err := store.Read(input.DownloadID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &contentOutput{
			ContentType:        "text/markdown; charset=utf-8",
			ContentDisposition: `attachment; filename="` + meta.File + `"`,
			Body:               data,
		}, nil
	})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-download", Method: http.MethodDelete, Path: "/api/v1/downloads/{download_id}", Summary: "Delete a saved Markdown file", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *downloadIDInput) (*deleteOutput, error) {
			if err := store.Delete(input.DownloadID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
