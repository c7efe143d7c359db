package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soaringjerry/Formsy/internal/db"
	"github.com/soaringjerry/Formsy/internal/middleware"
	"github.com/soaringjerry/Formsy/internal/services"
)

type Options struct {
	CORSOrigins []string
	// StaticDir, when set, is served at / for the bundled frontend.
	StaticDir string
	TokenTTL  time.Duration
	Commit    string
	BuildTime string
}

type Router struct {
	logger      *slog.Logger
	auth        *middleware.Authenticator
	forms       *services.FormService
	submissions *services.SubmissionService
	exports     *services.ExportService
	accounts    *services.AuthService
	opts        Options
}

func NewRouter(logger *slog.Logger, store db.Store, auth *middleware.Authenticator, opts Options) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Router{
		logger:      logger,
		auth:        auth,
		forms:       services.NewFormService(store),
		submissions: services.NewSubmissionService(store),
		exports:     services.NewExportService(store),
		accounts:    services.NewAuthService(store, auth.SignToken, opts.TokenTTL),
		opts:        opts,
	}
}

// Handler assembles the middleware chain and every route.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(rt.logger))
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.CORS(rt.opts.CORSOrigins))
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.NoStore)
	r.Use(middleware.Locale)
	r.Use(rt.auth.WithAuth)

	r.Get("/health", rt.handleHealth)
	r.Get("/version", rt.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", rt.handleRegister)
			r.Post("/login", rt.handleLogin)
			r.With(middleware.RequireAuth).Get("/me", rt.handleMe)
		})

		r.Route("/forms", func(r chi.Router) {
			r.Get("/slug/{slug}", rt.handlePublicForm)
			// Respondents address a form by slug here; owner routes below
			// address it by id in the same segment.
			r.Post("/{ref}/submissions", rt.handleSubmit)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Post("/", rt.handleCreateForm)
				r.Get("/", rt.handleListForms)
				r.Post("/{ref}/pause", rt.handlePause)
				r.Post("/{ref}/fields", rt.handleAddField)
				r.Post("/{ref}/fields/order", rt.handleReorderFields)
				r.Get("/{ref}/submissions", rt.handleListSubmissions)
				r.Get("/{ref}/submissions/export", rt.handleExport)
				r.Get("/{ref}/audit", rt.handleActivity)
			})
		})
	})

	if rt.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(rt.opts.StaticDir)))
	}
	return r
}
