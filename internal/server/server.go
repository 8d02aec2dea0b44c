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
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"realmexchange/internal/domain"
	"realmexchange/internal/engine"
	"realmexchange/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"listing_not_active"`
	Message string         `json:"message" example:"listing l-1 is not active (status completed)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"listing_id\":\"l-1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Realmexchange API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Realmexchange API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerAccounts(group, cfg.Engine)
	registerListings(group, cfg.Engine)
	registerOffers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
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

// handleError maps engine errors to the envelope. Settlement and allocation
// inconsistencies surface as 500s; every precondition failure keeps its
// descriptive payload.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var lnf engine.ListingNotFoundError
	if errors.As(err, &lnf) {
		return newAPIError(http.StatusNotFound, "listing_not_found", err.Error(), map[string]any{"listing_id": lnf.ListingID})
	}
	var lna engine.ListingNotActiveError
	if errors.As(err, &lna) {
		return newAPIError(http.StatusConflict, "listing_not_active", err.Error(), map[string]any{"listing_id": lna.ListingID, "status": lna.Status})
	}
	var own engine.OwnListingError
	if errors.As(err, &own) {
		return newAPIError(http.StatusConflict, "own_listing", err.Error(), map[string]any{"listing_id": own.ListingID})
	}
	var notOwned engine.AccountsNotOwnedError
	if errors.As(err, &notOwned) {
		return newAPIError(http.StatusUnprocessableEntity, "accounts_not_owned", err.Error(), map[string]any{"account_ids": notOwned.AccountIDs})
	}
	var short engine.InsufficientItemsError
	if errors.As(err, &short) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_items", err.Error(), map[string]any{
			"item": short.Item, "held": short.Held, "required": short.Required,
		})
	}
	var infeasible engine.AllocationInfeasibleError
	if errors.As(err, &infeasible) {
		return newAPIError(http.StatusInternalServerError, "allocation_infeasible", err.Error(), map[string]any{"listing_id": infeasible.ListingID})
	}
	var onf engine.OfferNotFoundError
	if errors.As(err, &onf) {
		return newAPIError(http.StatusNotFound, "offer_not_found", err.Error(), map[string]any{"offer_id": onf.OfferID})
	}
	var onp engine.OfferNotPendingError
	if errors.As(err, &onp) {
		return newAPIError(http.StatusConflict, "offer_not_pending", err.Error(), map[string]any{"offer_id": onp.OfferID, "status": onp.Status})
	}
	var listed engine.AccountListedError
	if errors.As(err, &listed) {
		return newAPIError(http.StatusConflict, "account_listed", err.Error(), map[string]any{"account_id": listed.AccountID, "listing_id": listed.ListingID})
	}
	var settle engine.SettlementError
	if errors.As(err, &settle) {
		return newAPIError(http.StatusInternalServerError, "settlement_failed", "settlement failed", map[string]any{"error": settle.Err.Error()})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already verified"),
		strings.Contains(lowered, "not verified"),
		strings.Contains(lowered, "seasonal"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown item") || strings.Contains(lowered, "exceeds"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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
	openPaths := map[string]bool{}
	for _, p := range []string{"health", "auth/dev/login"} {
		joined := path.Join(basePath, p)
		if !strings.HasPrefix(joined, "/") {
			joined = "/" + joined
		}
		openPaths[joined] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
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
    <title>Realmexchange API Docs</title>
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
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Marketplace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountListingsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"marketplace_id": e.Config.Marketplace.ID,
			"listing_counts": counts,
		}}, nil
	})
}

func registerAccounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-account",
		Method:        http.MethodPost,
		Path:          "/accounts",
		Summary:       "Register account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterAccountRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AccountRegisterOptions{
			OwnerID:    userID,
			Name:       input.Body.Name,
			Credential: stringOrEmpty(input.Body.Credential),
			Seasonal:   input.Body.Seasonal,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		a, err := e.RegisterAccount(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/accounts",
		Summary:     "List own accounts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
	}) (*struct {
		Body []AccountResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.OwnerID
		if owner == "" {
			owner = userID
		}
		items, err := e.Repo.ListAccountsByOwner(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AccountResponse, 0, len(items))
		for _, a := range items {
			ar := accountResponse(a)
			locked, err := e.HasConflict(ctx, []string{a.ID})
			if err != nil {
				return nil, handleError(err)
			}
			ar.Locked = locked
			res = append(res, ar)
		}
		return &struct {
			Body []AccountResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{account_id}",
		Summary:     "Get account",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetAccount(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		ar := accountResponse(a)
		locked, err := e.HasConflict(ctx, []string{a.ID})
		if err != nil {
			return nil, handleError(err)
		}
		ar.Locked = locked
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: ar}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-account",
		Method:      http.MethodPost,
		Path:        "/accounts/{account_id}/verify",
		Summary:     "Verify account and attach inventory",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		AccountID string               `path:"account_id"`
		Body      VerifyAccountRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.VerifyAccount(ctx, input.AccountID, input.Body.Items, input.Body.Seasonal, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-session",
		Method:      http.MethodPost,
		Path:        "/accounts/{account_id}/session",
		Summary:     "Fetch play credential",
		Description: "Refused while the account is committed to an active listing or pending offer.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cred, err := e.AccountSession(ctx, input.AccountID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{AccountID: input.AccountID, Credential: cred}}, nil
	})
}

func registerListings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-listing",
		Method:        http.MethodPost,
		Path:          "/listings",
		Summary:       "Create listing",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateListingRequest `json:"body"`
	}) (*struct {
		Body ListingResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.AccountIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_ids is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ListingCreateOptions{
			SellerID:   userID,
			AccountIDs: input.Body.AccountIDs,
			Price:      input.Body.Price,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.CreateListing(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListingResponse `json:"body"`
		}{Body: listingResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/listings",
		Summary:     "List listings",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"active,completed,cancelled" default:"active"`
		SellerID string `query:"seller_id"`
	}) (*struct {
		Body []ListingResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var items []domain.Listing
		var err error
		if input.SellerID != "" {
			items, err = e.Repo.ListListingsBySeller(ctx, input.SellerID)
		} else {
			status := input.Status
			if status == "" {
				status = domain.ListingActive
			}
			items, err = e.Repo.ListListingsByStatus(ctx, status)
		}
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ListingResponse, 0, len(items))
		for _, l := range items {
			res = append(res, listingResponse(l))
		}
		return &struct {
			Body []ListingResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-listing",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}",
		Summary:     "Get listing with the listed accounts expanded",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body ListingDetailResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		l, err := e.Repo.GetListing(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		accounts, err := e.Repo.ListAccountsByIDs(ctx, l.AccountIDs)
		if err != nil {
			return nil, handleError(err)
		}
		detail := ListingDetailResponse{
			ListingResponse: listingResponse(l),
			Accounts:        make([]AccountResponse, 0, len(accounts)),
		}
		for _, a := range accounts {
			ar := accountResponse(a)
			ar.Locked = l.Status == domain.ListingActive
			detail.Accounts = append(detail.Accounts, ar)
		}
		return &struct {
			Body ListingDetailResponse `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/cancel",
		Summary:     "Cancel listing",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body ListingResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CancelListing(ctx, input.ListingID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListingResponse `json:"body"`
		}{Body: listingResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/accept",
		Summary:     "Accept listing and settle the trade",
		Description: "Without payment_account_ids the allocator selects payment from the caller's holdings.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ListingID string               `path:"listing_id"`
		Body      AcceptListingRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body SettlementResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var payment []string
		if raw, ok := rawBodyMap(ctx)["payment_account_ids"]; ok && !isNullRaw(raw) {
			payment = input.Body.PaymentAccountIDs
			if payment == nil {
				payment = []string{}
			}
		}
		res, err := e.AcceptListing(ctx, input.ListingID, userID, payment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettlementResponse `json:"body"`
		}{Body: settlementResponse(res)}, nil
	})
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "make-offer",
		Method:        http.MethodPost,
		Path:          "/listings/{listing_id}/offers",
		Summary:       "Make offer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ListingID string           `path:"listing_id"`
		Body      MakeOfferRequest `json:"body"`
	}) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.AccountIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_ids is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.MakeOffer(ctx, input.ListingID, userID, input.Body.AccountIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}/offers",
		Summary:     "List offers for a listing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body []OfferResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOffersByListing(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]OfferResponse, 0, len(items))
		for _, o := range items {
			res = append(res, offerResponse(o))
		}
		return &struct {
			Body []OfferResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-offers",
		Method:      http.MethodGet,
		Path:        "/offers",
		Summary:     "List own offers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OfferResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOffersByBuyer(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]OfferResponse, 0, len(items))
		for _, o := range items {
			res = append(res, offerResponse(o))
		}
		return &struct {
			Body []OfferResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/accept",
		Summary:     "Accept offer and settle the trade",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body SettlementResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptOffer(ctx, input.OfferID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettlementResponse `json:"body"`
		}{Body: settlementResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/reject",
		Summary:     "Reject offer",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.RejectOffer(ctx, input.OfferID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"account,listing,offer"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, e.Config.Marketplace.ID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get marketplace config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MarketplaceConfigResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetMarketplaceConfig(ctx, e.Config.Marketplace.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MarketplaceConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{
			UserID: principal.UserID,
			Source: principal.Source,
		}
		// JWT principals may authenticate before any marketplace action
		// creates their user row, so a missing row is not an error.
		u, err := e.Repo.GetUser(ctx, principal.UserID)
		if err == nil {
			resp.Username = u.Username
			resp.CreatedAt = u.CreatedAt
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, user)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := uuid.New().String() + uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			UserID:    userID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.EnsureUser(ctx, tx, userID, key.CreatedAt); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
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

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
