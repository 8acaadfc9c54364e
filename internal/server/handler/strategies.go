package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// Directory is the view of the strategy registry the API serves. It is
// satisfied by *strategy.Registry.
type Directory interface {
	Infos() []strategy.Info
	Get(name string) (strategy.Strategy, error)
}

// StrategiesHandler serves runtime strategy state and the manual
// quarantine-clear operation.
type StrategiesHandler struct {
	directory Directory
	logger    *slog.Logger
}

// NewStrategiesHandler creates a StrategiesHandler backed by the given
// strategy directory.
func NewStrategiesHandler(directory Directory, logger *slog.Logger) *StrategiesHandler {
	return &StrategiesHandler{
		directory: directory,
		logger:    logger.With(slog.String("component", "api")),
	}
}

// strategyJSON is the wire shape of one registered strategy.
type strategyJSON struct {
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol"`
	Status string    `json:"status"`
	State  stateJSON `json:"state"`
}

type stateJSON struct {
	Direction        string     `json:"direction"`
	ShortVenue       string     `json:"short_venue,omitempty"`
	LongVenue        string     `json:"long_venue,omitempty"`
	Size             float64    `json:"size"`
	EntryTime        *time.Time `json:"entry_time,omitempty"`
	RealizedPnL      float64    `json:"realized_pnl"`
	Quarantined      bool       `json:"quarantined"`
	QuarantineReason string     `json:"quarantine_reason,omitempty"`
	Unbalanced       bool       `json:"unbalanced"`
	LastExecution    *time.Time `json:"last_execution,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// List responds with the runtime state of every registered strategy.
// GET /api/strategies
func (h *StrategiesHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.directory.Infos()
	out := make([]strategyJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, strategyJSON{
			Name:   info.Name,
			Kind:   info.Kind,
			Symbol: info.Symbol,
			Status: string(info.Status),
			State:  toStateJSON(info.State),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ClearQuarantine lifts the quarantine on a single strategy so trading can
// resume on its next tick. The state must be reconciled by the operator
// before calling this.
// POST /api/strategies/{name}/quarantine/clear
func (h *StrategiesHandler) ClearQuarantine(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	strat, err := h.directory.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown strategy: "+name)
		return
	}

	if err := strat.ClearQuarantine(r.Context()); err != nil {
		h.logger.Error("clear quarantine",
			slog.String("strategy", name),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "clear quarantine: "+err.Error())
		return
	}

	h.logger.Info("quarantine cleared via api", slog.String("strategy", name))
	writeJSON(w, http.StatusOK, map[string]string{
		"strategy": name,
		"status":   "cleared",
	})
}

func toStateJSON(s domain.StrategyState) stateJSON {
	return stateJSON{
		Direction:        string(s.Direction),
		ShortVenue:       s.ShortVenue,
		LongVenue:        s.LongVenue,
		Size:             s.Size,
		EntryTime:        timePtr(s.EntryTime),
		RealizedPnL:      s.RealizedPnL,
		Quarantined:      s.Quarantined,
		QuarantineReason: s.QuarantineReason,
		Unbalanced:       s.Unbalanced,
		LastExecution:    timePtr(s.LastExecution),
		UpdatedAt:        timePtr(s.UpdatedAt),
	}
}
