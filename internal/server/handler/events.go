package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
)

const (
	defaultEventCount = 100
	maxEventCount     = 500
)

// EventJournal is the read side of the notification event stream. It is
// satisfied by the Redis signal bus.
type EventJournal interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves the append-only notification event journal so
// dashboards can show what the bot has done recently.
type EventsHandler struct {
	journal EventJournal
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler. A nil journal means Redis is
// not configured; the endpoint then reports 503.
func NewEventsHandler(journal EventJournal, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		journal: journal,
		logger:  logger.With(slog.String("component", "api")),
	}
}

// eventJSON is one journal entry on the wire, the stream ID plus the
// recorded event fields.
type eventJSON struct {
	ID string `json:"id"`
	notify.JournalEntry
}

// ListEvents responds with notification events from the journal stream.
// ?after=<stream id> resumes past a previous page; ?limit= caps the batch.
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal unavailable: redis not configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := defaultEventCount
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		count = min(n, maxEventCount)
	}

	msgs, err := h.journal.StreamRead(r.Context(), notify.EventStream, after, count)
	if err != nil {
		h.logger.Error("read event journal", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "read event journal: "+err.Error())
		return
	}

	out := make([]eventJSON, 0, len(msgs))
	for _, m := range msgs {
		var entry notify.JournalEntry
		if err := json.Unmarshal(m.Payload, &entry); err != nil {
			// Skip entries that fail to decode rather than failing the page.
			h.logger.Warn("skipping malformed journal entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, eventJSON{ID: m.ID, JournalEntry: entry})
	}

	writeJSON(w, http.StatusOK, out)
}
