package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/gdg-garage/confreg/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Registration *RegistrationHandler
	Webhook      *WebhookHandler
	Admin        *AdminHandler
}

func RegisterRoutes(r *chi.Mux, authenticator *auth.Authenticator, h Handlers, enableCORS bool) huma.API {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if enableCORS {
		r.Use(cors)
	}

	// Initialize Huma API
	config := huma.DefaultConfig("Conference Registration API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		auth.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	api := humachi.New(r, config)
	api.UseMiddleware(authenticator.Middleware(api))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-registration",
		Method:        http.MethodPost,
		Path:          "/conferences/{conferenceId}/registrations",
		Summary:       "Register for a conference",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"Registrations"},
	}, h.Registration.HandleCreate)
	huma.Get(api, "/conferences/{conferenceId}/availability", h.Registration.HandleAvailability, func(o *huma.Operation) {
		o.Tags = []string{"Registrations"}
	})
	huma.Get(api, "/registrations/{registrationId}", h.Registration.HandleGet, func(o *huma.Operation) {
		o.Tags = []string{"Registrations"}
	})

	// Gateway callbacks, authenticated by signature
	huma.Post(api, "/webhooks/payments", h.Webhook.HandlePayment, func(o *huma.Operation) {
		o.Tags = []string{"Webhooks"}
		o.DefaultStatus = http.StatusOK
	})

	// Operator routes
	protected := func(o *huma.Operation) {
		o.Tags = []string{"Admin"}
		o.Security = []map[string][]string{{auth.SecurityScheme: {}}}
	}
	huma.Post(api, "/admin/registrations/{registrationId}/resolve", h.Admin.HandleResolve, protected, func(o *huma.Operation) {
		o.DefaultStatus = http.StatusOK
	})
	huma.Get(api, "/admin/registrations/{registrationId}/history", h.Admin.HandleHistory, protected)
	huma.Get(api, "/admin/conferences/{conferenceId}/registrations", h.Admin.HandleList, protected)
	huma.Post(api, "/admin/sweep", h.Admin.HandleSweep, protected, func(o *huma.Operation) {
		o.DefaultStatus = http.StatusOK
	})

	return api
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
