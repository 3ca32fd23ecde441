package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mappy4ever/tcgsync/internal/app"
	"github.com/mappy4ever/tcgsync/internal/auth"
	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/upstream"
)

const (
	maxRequestBytes = 64 << 10
	storePingWait   = 2 * time.Second
)

// Pinger is the store health surface used by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (string, error)
}

type Handler struct {
	syncService *app.SyncService
	auth        *auth.Authenticator
	store       Pinger
	logger      *logging.Logger
}

// NewHandler builds the trigger handler. syncService and store may be nil when
// no store is configured; sync requests are then answered with 503.
func NewHandler(syncService *app.SyncService, authenticator *auth.Authenticator, store Pinger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		syncService: syncService,
		auth:        authenticator,
		store:       store,
		logger:      logger.WithComponent("api"),
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type syncStats struct {
	SeriesCreated int `json:"seriesCreated"`
	SetsCreated   int `json:"setsCreated"`
	SetsUpdated   int `json:"setsUpdated"`
	CardsCreated  int `json:"cardsCreated"`
	CardsUpdated  int `json:"cardsUpdated"`
	CardsFailed   int `json:"cardsFailed"`
}

type syncResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	SyncID  string     `json:"syncId,omitempty"`
	Stats   *syncStats `json:"stats,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func statsOf(s domain.SyncStats) *syncStats {
	return &syncStats{
		SeriesCreated: s.SeriesCreated,
		SetsCreated:   s.SetsCreated,
		SetsUpdated:   s.SetsUpdated,
		CardsCreated:  s.CardsCreated,
		CardsUpdated:  s.CardsUpdated,
		CardsFailed:   s.CardsFailed,
	}
}

// requireAdmin rejects requests without a valid admin credential.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil || !h.auth.Configured() {
			writeError(w, http.StatusUnauthorized, "admin access is not configured")
			return
		}
		if err := h.auth.Authenticate(r); err != nil {
			h.logger.Warnw("api.auth.rejected", map[string]any{"path": r.URL.Path, "remote": r.RemoteAddr})
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pingStore checks the store before a run is opened so an unreachable store
// is not reported as a failed run.
func (h *Handler) pingStore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storePingWait)
	defer cancel()
	return h.store.Ping(ctx)
}

// TriggerSync handles POST /api/v1/sync.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncService == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}
	var req domain.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.pingStore(r.Context()); err != nil {
		h.logger.Errorw("api.sync.store_unavailable", map[string]any{"scope": req.Type, "error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	sum, err := h.syncService.StartSync(r.Context(), &req)
	switch {
	case errors.Is(err, app.ErrInvalidScope), errors.Is(err, app.ErrMissingSetID), errors.Is(err, app.ErrInvalidSetID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, app.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, app.ErrNoQueue):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil && sum == nil:
		h.logger.Errorw("api.sync.start_failed", map[string]any{"scope": req.Type, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if sum.Accepted {
		writeJSON(w, http.StatusAccepted, syncResponse{
			Success: true,
			Message: fmt.Sprintf("%s sync started, poll /api/v1/sync/runs/%s for progress", sum.Scope, sum.RunID),
			SyncID:  sum.RunID,
		})
		return
	}

	resp := syncResponse{SyncID: sum.RunID, Stats: statsOf(sum.Stats)}
	if err == nil {
		resp.Success = true
		resp.Message = fmt.Sprintf("set %s synced: %d cards created, %d updated, %d failed",
			sum.TargetID, sum.Stats.CardsCreated, sum.Stats.CardsUpdated, sum.Stats.CardsFailed)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Message = fmt.Sprintf("set %s sync failed", sum.TargetID)
	resp.Error = err.Error()
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrSetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upstream.ErrUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.syncService == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := h.syncService.ListRuns(r.Context(), limit, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*domain.SyncRun{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: list})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.syncService == nil {
		writeError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}
	run, err := h.syncService.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: run})
}

type health struct {
	Store   string `json:"store"`
	Version string `json:"version,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: "store is not configured", Data: health{Store: "missing"}})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: err.Error(), Data: health{Store: "down"}})
		return
	}
	version, err := h.store.ServerVersion(ctx)
	if err != nil {
		h.logger.Warnw("api.health.version_failed", map[string]any{"error": err.Error()})
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: health{Store: "up", Version: version}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return dec.Decode(out)
}
