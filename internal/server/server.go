package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/monitor"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
)

// Trigger kicks off one batch run over the currently due items. Wired
// by the serve command so the server never owns orchestration.
type Trigger func(ctx context.Context) (monitor.Summary, error)

type Server struct {
	DB       *storage.DB
	Username string
	Password string
	RunBatch Trigger
}

func New(db *storage.DB, user, pass string, trigger Trigger) *Server {
	return &Server{
		DB:       db,
		Username: user,
		Password: pass,
		RunBatch: trigger,
	}
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // a triggered run blocks the response
	}
	utils.Log.Infof("starting status server on %s", addr)
	return srv.ListenAndServe()
}

// Handler builds the route table; split out so tests can drive it with
// httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.basicAuth(s.handleStatus))
	mux.HandleFunc("GET /api/items", s.basicAuth(s.handleItems))
	mux.HandleFunc("GET /api/changes", s.basicAuth(s.handleChanges))
	mux.HandleFunc("GET /api/runs", s.basicAuth(s.handleRuns))
	mux.HandleFunc("POST /api/run", s.basicAuth(s.handleTriggerRun))

	return mux
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
