package handler

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
)

func (h *Handler) Routes(staticFS fs.FS, uploadRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Handle("/static/*", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := h.DB.PingContext(r.Context()); err != nil {
			renderJSONError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
			return
		}
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// JSON API v1: bearer API key auth with its own rate limiter
	apiRL := NewRateLimiter(2.0, 60) // 2 req/sec sustained, burst 60
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.apiRateLimit(apiRL))
		r.Use(h.requireAPIAuth)

		r.With(uploadRL.Middleware).Post("/videos", h.APIVideoUpload)
		r.Get("/videos", h.APIVideoList)
		r.Get("/videos/{id}", h.APIVideoGet)
		r.Delete("/videos/{id}", h.APIVideoDelete)
		r.Get("/videos/{id}/plan", h.APIVideoPlan)
		r.Post("/videos/{id}/exports", h.APIExportCreate)
		r.Get("/exports/{id}", h.APIExportGet)
	})

	csrfProtect := csrf.Protect(
		[]byte(h.Cfg.SessionSecret),
		csrf.Secure(strings.HasPrefix(h.Cfg.BaseURL, "https")),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
	)

	// Demo pages
	r.Group(func(r chi.Router) {
		r.Use(csrfProtect)

		r.Get("/", h.Index)
		r.With(uploadRL.Middleware).Post("/videos", h.VideoUploadSubmit)
		r.Get("/videos/{id}", h.VideoDetail)
		r.Post("/videos/{id}/exports", h.VideoExportSubmit)
		r.Post("/videos/{id}/delete", h.VideoDelete)
	})

	r.Get("/videos/{id}/original", h.VideoOriginal)
	r.Get("/videos/{id}/events", h.VideoSSE)
	r.Get("/exports/{id}/file", h.ExportFile)

	return r
}
