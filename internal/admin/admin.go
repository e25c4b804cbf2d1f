package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/policy"
	"github.com/snapp-incubator/outlog/pkg/retention"
	"github.com/snapp-incubator/outlog/pkg/storage"
)

// Server exposes the persistence policy and the stored logs over JSON.
type Server struct {
	policy *policy.Service
	store  storage.Storage
	pruner *retention.Pruner
	maxAge func() *int
}

// NewServer returns the admin API. maxAge supplies the configured retention
// for prune requests that do not carry one.
func NewServer(svc *policy.Service, store storage.Storage, pruner *retention.Pruner, maxAge func() *int) *Server {
	return &Server{policy: svc, store: store, pruner: pruner, maxAge: maxAge}
}

// Handler returns the routes of the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/policy", s.getPolicy)
	mux.HandleFunc("PUT /api/policy", s.putPolicy)
	mux.HandleFunc("GET /api/logs", s.listLogs)
	mux.HandleFunc("GET /api/logs/{id}", s.getLog)
	mux.HandleFunc("POST /api/prune", s.prune)
	return mux
}

// Serve listens on bind until ctx is done.
func (s *Server) Serve(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.L.Info("Starting admin server", zap.String("address", bind))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type policyView struct {
	policy.Policy
	Effective struct {
		Save     bool `json:"save"`
		SaveBody bool `json:"save_body"`
	} `json:"effective"`
}

// policyPatch is a partial update; absent fields are left unchanged.
type policyPatch struct {
	SaveToDB         *policy.Toggle `json:"save_to_db"`
	SaveBody         *policy.Toggle `json:"save_body"`
	MaxContentLength *int64         `json:"max_content_length"`
	ResetAfter       *int           `json:"reset_after"`
	ClearResetAfter  bool           `json:"clear_reset_after"`
}

func (s *Server) view() policyView {
	v := policyView{Policy: s.policy.Current()}
	v.Effective.Save = s.policy.SaveEnabled()
	v.Effective.SaveBody = s.policy.SaveBodyEnabled()
	return v
}

func (s *Server) getPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	var patch policyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_, err := s.policy.Update(r.Context(), func(p *policy.Policy) {
		if patch.SaveToDB != nil {
			p.SaveToDB = *patch.SaveToDB
		}
		if patch.SaveBody != nil {
			p.SaveBody = *patch.SaveBody
		}
		if patch.MaxContentLength != nil {
			p.MaxContentLength = *patch.MaxContentLength
		}
		if patch.ResetAfter != nil {
			p.ResetAfter = patch.ResetAfter
		}
		if patch.ClearResetAfter {
			p.ResetAfter = nil
		}
	})

	var invalid *policy.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		logging.L.Error("Failed to update the persistence policy", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, s.view())
}

type logView struct {
	*storage.LogRecord
	ReqBody string `json:"req_body,omitempty"`
	ResBody string `json:"res_body,omitempty"`
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	q := storage.Query{
		Hostname: r.URL.Query().Get("hostname"),
		Method:   r.URL.Query().Get("method"),
	}

	var err error
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if q.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := s.store.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]logView, 0, len(records))
	for _, rec := range records {
		views = append(views, logView{LogRecord: rec})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, logView{
		LogRecord: rec,
		ReqBody:   rec.RequestBodyDecoded(),
		ResBody:   rec.ResponseBodyDecoded(),
	})
}

func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	maxAge := s.maxAge()
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, errors.New("max_age must be a non-negative number of days"))
			return
		}
		maxAge = &days
	}

	deleted, err := s.pruner.Prune(r.Context(), maxAge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
		"message": retention.Summary(deleted),
	})
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L.Error("Failed to write admin response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
