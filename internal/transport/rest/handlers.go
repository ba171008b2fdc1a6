package rest

import (
	"net/http"
	"time"

	"github.com/fieldtrace/logsync/internal/domain"
	appCtx "github.com/fieldtrace/logsync/internal/pkg/context"
	"github.com/fieldtrace/logsync/internal/transport/rest/response"
)

// Handler serves the sync-status surface collaborators read when
// deciding whether to display staleness.
type Handler struct {
	refs domain.ReferenceStore
	loc  *time.Location
	now  func() time.Time
}

func NewHandler(refs domain.ReferenceStore, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{refs: refs, loc: loc, now: time.Now}
}

type referenceStatus struct {
	ActorID    string     `json:"actor_id"`
	LogDate    string     `json:"log_date"`
	Registered bool       `json:"registered"`
	Dirty      bool       `json:"dirty"`
	RemoteID   string     `json:"remote_id,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// SyncStatus reports per-reference sync state for one day (?date=YYYY-MM-DD,
// default today in the reference timezone).
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	day := domain.Day(h.now(), h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.loc)
		if err != nil {
			response.Fail(w, r, http.StatusBadRequest, "request.invalid", "date must be YYYY-MM-DD", appCtx.GetRequestID(r.Context()))
			return
		}
		day = parsed
	}

	refs, err := h.refs.ReferencesForDay(r.Context(), day)
	if err != nil {
		response.Fail(w, r, http.StatusInternalServerError, "internal", "failed to load references", appCtx.GetRequestID(r.Context()))
		return
	}

	out := make([]referenceStatus, 0, len(refs))
	for _, ref := range refs {
		out = append(out, referenceStatus{
			ActorID:    ref.ActorID,
			LogDate:    domain.DayKey(ref.LogDate),
			Registered: ref.Registered(),
			Dirty:      ref.Dirty(),
			RemoteID:   ref.RemoteID,
			UpdatedAt:  ref.UpdatedAt,
			LastSyncAt: ref.LastSyncAt,
		})
	}
	response.Data(w, r, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.Data(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
