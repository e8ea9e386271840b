package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"obraflow/internal/config"
	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/logging"
	"obraflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid status transition: invoice paid -> void"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// out wraps a response body for huma.
type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

// New returns an HTTP handler exposing the obra API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Api-Key", "X-Actor-Id"},
			MaxAge:         300,
		}))
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyBytesKey{}, body)))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Obra API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerTenants(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerBudgets(group, cfg.Engine)
	registerInvoices(group, cfg.Engine)
	registerWorks(group, cfg.Engine)
	registerClock(group, cfg.Engine)
	registerRanking(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestLogger writes one line per request.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			kv := []any{"method", r.Method, "path", r.URL.Path, "status", status, "duration", time.Since(start).Round(time.Microsecond)}
			if status >= http.StatusInternalServerError {
				logger.Error("request", kv...)
				return
			}
			logger.Info("request", kv...)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrMissingTenant):
		return newAPIError(http.StatusNotFound, "tenant_not_found", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, engine.ErrItemsLocked):
		return newAPIError(http.StatusConflict, "items_locked", msg, nil)
	case errors.Is(err, engine.ErrOutOfOrder):
		return newAPIError(http.StatusConflict, "out_of_order", msg, nil)
	case errors.Is(err, engine.ErrNoItems):
		return newAPIError(http.StatusUnprocessableEntity, "no_items", msg, nil)
	case errors.Is(err, engine.ErrPolicy):
		return newAPIError(http.StatusUnprocessableEntity, "policy_rejected", msg, nil)
	case errors.Is(err, domain.ErrInvalidClientRef),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidDeposit),
		errors.Is(err, domain.ErrInvalidName):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return newAPIError(http.StatusConflict, "conflict", "resource already exists", nil)
	case strings.HasPrefix(msg, "config."), strings.HasPrefix(msg, "invalid config"):
		return newAPIError(http.StatusBadRequest, "invalid_config", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			if oas.Components != nil && oas.Components.Schemas != nil {
				oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
			}
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Obra API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

type MeResponse struct {
	ActorID  string `json:"actor_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Source   string `json:"source"`
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[MeResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(MeResponse{ActorID: p.ActorID, TenantID: p.TenantID, Source: p.Source}), nil
	})
}

type tenantPath struct {
	TenantID string `path:"tenant_id"`
}

func registerTenants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create tenant with the default configuration",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTenantRequest
	}) (*out[domain.Tenant], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		id := strings.TrimSpace(input.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", map[string]any{"field": "id"})
		}
		actorID, authErr := authorizeTenant(ctx, id)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.InitTenant(ctx, id, strings.TrimSpace(input.Body.Name), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}",
		Summary:     "Get tenant",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*out[domain.Tenant], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTenant(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant-config",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Get tenant configuration",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*out[map[string]any], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetTenantConfig(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, handleError(err)
		}
		return reply(body), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-tenant-config",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Replace tenant configuration",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     TenantConfigRequest
	}) (*struct{}, error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		if cfg.Tenant.ID != input.TenantID {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", "config.tenant.id does not match the path", map[string]any{"tenant_id": cfg.Tenant.ID})
		}
		if err := e.ImportTenantConfig(ctx, input.TenantID, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateAPIKeyRequest
	}) (*out[APIKeyResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		owner := strings.TrimSpace(input.Body.ActorID)
		if owner == "" {
			owner = actorID
		}
		key, plain, err := e.CreateAPIKey(ctx, input.TenantID, owner, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(apiKeyResponse(key, plain)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ActorID  string `query:"actor_id"`
	}) (*out[[]APIKeyResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.TenantID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(keys, func(k domain.APIKey) APIKeyResponse { return apiKeyResponse(k, "") })), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/api-keys/{id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.TenantID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			TenantID:   input.TenantID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Before:     before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
