package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// request logger goes after RequestID so it can pick the id up
	r.Use(RequestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/conversions", func(r chi.Router) {
		r.Post("/", h.CreateConversion)
		r.Get("/{id}", h.GetConversion)
		r.Delete("/{id}", h.CancelConversion)
		r.Get("/{id}/progress", h.GetProgress)
		r.Get("/{id}/result", h.GetResult)
	})

	r.Get("/usage", h.GetUsage)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
