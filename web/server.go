package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jnesss/errsnoop/database"
)

const defaultLimit = 100

// StackStore is the subset of the database the API reads from.
type StackStore interface {
	RecentErrorStacks(limit int) ([]database.ErrorStackRecord, error)
	GetErrorStack(id int64) (database.ErrorStackRecord, error)
}

// Server serves recorded error stacks and metrics over HTTP.
type Server struct {
	store      StackStore
	metrics    http.Handler
	listenAddr string
	log        *logrus.Entry
}

// NewServer creates a server. store and metrics may each be nil to leave
// the corresponding routes out.
func NewServer(store StackStore, metrics http.Handler, listenAddr string, log *logrus.Entry) *Server {
	return &Server{
		store:      store,
		metrics:    metrics,
		listenAddr: listenAddr,
		log:        log,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	if s.store != nil {
		r.HandleFunc("/api/stacks", s.handleRecentStacks).Methods(http.MethodGet)
		r.HandleFunc("/api/stacks/{id:[0-9]+}", s.handleStackByID).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Infof("Starting web server on %s", s.listenAddr)

	// Graceful shutdown goroutine
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("HTTP server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRecentStacks(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	stacks, err := s.store.RecentErrorStacks(limit)
	if err != nil {
		s.log.Errorf("Database query error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stacks == nil {
		stacks = []database.ErrorStackRecord{}
	}

	writeJSON(w, stacks)
}

func (s *Server) handleStackByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	stack, err := s.store.GetErrorStack(id)
	if err == sql.ErrNoRows {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Errorf("Database query error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, stack)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
