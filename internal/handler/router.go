package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter はルーターを生成する。
func NewRouter(h *IdPHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Get("/healthz", h.Healthz)

	r.Route("/v1/users/{uid}", func(r chi.Router) {
		r.Post("/enroll", h.Enroll)
		r.Post("/rotate", h.Rotate)
		r.Get("/credential", h.GetCredential)
	})

	r.Route("/v1/relying-parties/{rp_id}", func(r chi.Router) {
		r.Put("/", h.TrustRP)
		r.Post("/logins", h.EvaluateLogin)
		r.Post("/logins/begin", h.BeginLogin)
	})

	r.Post("/v1/logins/{login_id}/complete", h.CompleteLogin)

	return otelhttp.NewHandler(r, "syberkey-api")
}
