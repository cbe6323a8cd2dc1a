package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialogport/tg-archiver/internal/events"
	"github.com/dialogport/tg-archiver/internal/logger"
	"github.com/dialogport/tg-archiver/internal/repository"
	"github.com/dialogport/tg-archiver/internal/telegram"
)

// DialogReader lists archived dialogs
type DialogReader interface {
	List(ctx context.Context) ([]repository.Dialog, error)
	GetByID(ctx context.Context, id int64) (*repository.Dialog, error)
}

// MessageReader pages archived messages of a dialog
type MessageReader interface {
	GetByDialog(ctx context.Context, dialogID int64, offset, limit int) ([]repository.Message, error)
	Count(ctx context.Context, dialogID int64) (int, error)
}

// AuthManager exposes the telegram login state to the API
type AuthManager interface {
	GetStatus() telegram.Status
	StartQR(ctx context.Context, onQRCode func(url string)) error
	CancelQR()
	IsQRInProgress() bool
}

// Handler handles HTTP requests for the archiver service
type Handler struct {
	manager  *SyncManager
	dialogs  DialogReader
	messages MessageReader
	auth     AuthManager
	hub      *events.Hub
	log      *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(manager *SyncManager, dialogs DialogReader, messages MessageReader, auth AuthManager, hub *events.Hub, log *logger.Logger) *Handler {
	return &Handler{
		manager:  manager,
		dialogs:  dialogs,
		messages: messages,
		auth:     auth,
		hub:      hub,
		log:      log,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SyncResponse is the body returned when a sync run starts
type SyncResponse struct {
	SyncID    string    `json:"sync_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// StartSync handles POST /api/v1/sync
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
	}

	opts, err := req.Options()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.manager.Start(opts)
	if err != nil {
		if errors.Is(err, ErrSyncAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SyncResponse{
		SyncID:    job.ID,
		Status:    "running",
		StartedAt: job.StartedAt,
	})
}

// StopSync handles DELETE /api/v1/sync/current
func (h *Handler) StopSync(w http.ResponseWriter, r *http.Request) {
	h.manager.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "sync job stopped",
	})
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"telegram_status": string(h.auth.GetStatus()),
	}

	if current := h.manager.Current(); current != nil {
		resp["status"] = "running"
		resp["sync_id"] = current.ID
		resp["started_at"] = current.StartedAt.Format(time.RFC3339)
	} else {
		resp["status"] = "idle"
		if last := h.manager.Last(); last != nil {
			resp["last_sync"] = last
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListDialogs handles GET /api/v1/dialogs
func (h *Handler) ListDialogs(w http.ResponseWriter, r *http.Request) {
	dialogs, err := h.dialogs.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dialogs)
}

// MessagesResponse is a page of archived messages
type MessagesResponse struct {
	DialogID int64                `json:"dialog_id"`
	Total    int                  `json:"total"`
	Offset   int                  `json:"offset"`
	Limit    int                  `json:"limit"`
	Messages []repository.Message `json:"messages"`
}

// ListMessages handles GET /api/v1/dialogs/{id}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	dialogID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || dialogID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid dialog id")
		return
	}

	if _, err := h.dialogs.GetByID(r.Context(), dialogID); err != nil {
		if errors.Is(err, repository.ErrDialogNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := h.messages.GetByDialog(r.Context(), dialogID, offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total, err := h.messages.Count(r.Context(), dialogID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, MessagesResponse{
		DialogID: dialogID,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
		Messages: messages,
	})
}

// AuthStatus handles GET /api/v1/auth/status
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         string(h.auth.GetStatus()),
		"qr_in_progress": h.auth.IsQRInProgress(),
	})
}

// StartQRAuth handles POST /api/v1/auth/qr.
// The login flow runs in the background; QR token urls are pushed
// to websocket subscribers, and the first one is also returned here.
func (h *Handler) StartQRAuth(w http.ResponseWriter, r *http.Request) {
	if h.auth.GetStatus() == telegram.StatusReady {
		respondError(w, http.StatusConflict, "already logged in")
		return
	}
	if h.auth.IsQRInProgress() {
		respondError(w, http.StatusConflict, "QR login already in progress")
		return
	}

	firstURL := make(chan string, 1)
	go func() {
		err := h.auth.StartQR(context.Background(), func(url string) {
			select {
			case firstURL <- url:
			default:
			}
			if h.hub != nil {
				h.hub.Broadcast(events.EventAuthQR, map[string]string{"url": url})
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.log.Error().Err(err).Msg("QR login flow failed")
		}
	}()

	select {
	case url := <-firstURL:
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "pending",
			"url":    url,
		})
	case <-time.After(30 * time.Second):
		respondError(w, http.StatusGatewayTimeout, "timed out waiting for QR token")
	case <-r.Context().Done():
		respondError(w, http.StatusRequestTimeout, "request cancelled")
	}
}

// CancelQRAuth handles DELETE /api/v1/auth/qr
func (h *Handler) CancelQRAuth(w http.ResponseWriter, r *http.Request) {
	h.auth.CancelQR()
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "QR login cancelled",
	})
}

// helper functions

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
