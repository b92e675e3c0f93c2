// Package api assembles the HTTP surface: the mapping editor, the portal
// login endpoints, sync and job status.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/api/handlers"
	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Pages   *handlers.PagesHandler
	Landg   *handlers.LandgHandler
	Data    *handlers.DataHandler
	Sync    *handlers.SyncHandler
	Jobs    *handlers.JobsHandler
	History *handlers.HistoryHandler
}

// only rejects every method but method.
func only(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fn(w, r)
	}
}

// NewRouter mounts h behind the middleware chain. sessions may be nil to
// disable UI authentication.
func NewRouter(h Handlers, sessions *middleware.Sessions, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		only(http.MethodGet, h.Pages.Index)(w, r)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Pages.LoginForm(w, r)
		case http.MethodPost:
			h.Pages.Login(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})
	mux.HandleFunc("/logout", only(http.MethodPost, h.Pages.Logout))

	// Portal login
	mux.HandleFunc("/api/landg/login", only(http.MethodPost, h.Landg.StartLogin))
	mux.HandleFunc("/api/landg/2fa", only(http.MethodPost, h.Landg.SubmitCode))
	mux.HandleFunc("/api/landg/status", only(http.MethodGet, h.Landg.Status))

	// Mapping editor
	mux.HandleFunc("/api/data", only(http.MethodGet, h.Data.GetData))
	mux.HandleFunc("/api/budget-status", only(http.MethodGet, h.Data.BudgetStatus))
	mux.HandleFunc("/api/mappings", only(http.MethodPost, h.Data.SaveMappings))

	mux.HandleFunc("/api/sync", only(http.MethodPost, h.Sync.Sync))

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", only(http.MethodGet, h.Jobs.ListJobs))
	mux.HandleFunc("/api/jobs/", only(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	}))

	mux.HandleFunc("/api/history", only(http.MethodGet, h.History.ListHistory))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(sessions)(mux),
				),
			),
		),
	)
}
