package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/history"
	"github.com/3leaps/wsfetch/pkg/intake"
	"github.com/3leaps/wsfetch/pkg/queue"
	"github.com/3leaps/wsfetch/pkg/relocate"
)

const maxBodyBytes = 1 << 20

// JobReader reads the queue. *queue.Store implements it.
type JobReader interface {
	List() []queue.Job
	Get(id string) (queue.Job, bool)
}

// Submitter enqueues jobs. *intake.Intake implements it.
type Submitter interface {
	Submit(ctx context.Context, req intake.Request) (string, error)
	Retry(id string) (string, error)
}

// HistoryStore is the completed-download history. *history.Store implements
// it.
type HistoryStore interface {
	List() []history.Record
	Remove(id string) (bool, error)
	Clear() error
}

// ProcessLister reports tracked engine processes. *procreg.Registry
// implements it.
type ProcessLister interface {
	PIDs() []int
}

// API serves the queue, history, path and process endpoints. Nil
// dependencies make their endpoints answer 503.
type API struct {
	Jobs      JobReader
	Intake    Submitter
	History   HistoryStore
	Processes ProcessLister
	OpenPath  func(path string) error
	Logger    *zap.Logger
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// IDResponse carries the id of a created job.
type IDResponse struct {
	ID string `json:"id"`
}

// PathRequest is the body of POST /paths/open.
type PathRequest struct {
	Path string `json:"path"`
}

// ExistsResponse is the body of GET /paths/exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// ProcessesResponse is the body of GET /processes.
type ProcessesResponse struct {
	PIDs []int `json:"pids"`
}

// Enqueue handles POST /queue.
func (a *API) Enqueue(w http.ResponseWriter, r *http.Request) {
	if a.Intake == nil {
		unavailable(w, r, "queue")
		return
	}
	var req intake.Request
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		respondWithError(w, r, apperrors.NewBadRequestError("source is required", nil))
		return
	}

	id, err := a.Intake.Submit(r.Context(), req)
	if err != nil {
		a.logger().Warn("enqueue rejected", zap.String("source", req.Source), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// ListQueue handles GET /queue.
func (a *API) ListQueue(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		unavailable(w, r, "queue")
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, a.Jobs.List())
}

// GetJob handles GET /queue/{id}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		unavailable(w, r, "queue")
		return
	}
	id := chi.URLParam(r, "id")
	job, ok := a.Jobs.Get(id)
	if !ok {
		respondWithError(w, r, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}

// RetryJob handles POST /queue/{id}/retry.
func (a *API) RetryJob(w http.ResponseWriter, r *http.Request) {
	if a.Intake == nil {
		unavailable(w, r, "queue")
		return
	}
	id, err := a.Intake.Retry(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// ListHistory handles GET /history.
func (a *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		unavailable(w, r, "history")
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, a.History.List())
}

// RemoveHistory handles DELETE /history/{id}. The install directory is
// removed too; failing to remove it is logged and does not fail the request.
func (a *API) RemoveHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		unavailable(w, r, "history")
		return
	}
	id := chi.URLParam(r, "id")
	removed, err := a.History.Remove(id)
	switch {
	case errors.Is(err, history.ErrCleanup):
		a.logger().Warn("history install cleanup", zap.String("id", id), zap.Error(err))
	case err != nil:
		respondWithError(w, r, err)
		return
	}
	if !removed {
		respondWithError(w, r, apperrors.NewNotFoundError("history record "+id+" not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory handles DELETE /history.
func (a *API) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		unavailable(w, r, "history")
		return
	}
	if err := a.History.Clear(); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PathExists handles GET /paths/exists?path=.
func (a *API) PathExists(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondWithError(w, r, apperrors.NewBadRequestError("path is required", nil))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, ExistsResponse{Exists: relocate.Exists(path)})
}

// OpenInFileManager handles POST /paths/open.
func (a *API) OpenInFileManager(w http.ResponseWriter, r *http.Request) {
	if a.OpenPath == nil {
		unavailable(w, r, "file manager")
		return
	}
	var req PathRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Path == "" {
		respondWithError(w, r, apperrors.NewBadRequestError("path is required", nil))
		return
	}
	if err := a.OpenPath(req.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondWithError(w, r, apperrors.NewNotFoundError("path "+req.Path+" does not exist"))
			return
		}
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProcesses handles GET /processes.
func (a *API) ListProcesses(w http.ResponseWriter, r *http.Request) {
	if a.Processes == nil {
		unavailable(w, r, "process registry")
		return
	}
	pids := a.Processes.PIDs()
	if pids == nil {
		pids = []int{}
	}
	apperrors.WriteJSON(w, http.StatusOK, ProcessesResponse{PIDs: pids})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewBadRequestError("invalid request body", err)
	}
	return nil
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	respondWithError(w, r, apperrors.NewServiceUnavailableError(what+" is not available"))
}

// Events streams notifications from bus as Server-Sent Events until the
// client disconnects.
func Events(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bus == nil {
			unavailable(w, r, "event stream")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondWithError(w, r, errors.New("streaming unsupported"))
			return
		}

		ch, cancel := bus.Subscribe(events.DefaultSubscriberBuffer)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, open := <-ch:
				if !open {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
