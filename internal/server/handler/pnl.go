package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// PnLSource is the slice of the trade store the PnL endpoint needs.
type PnLSource interface {
	TotalPnL(ctx context.Context, strategy string) (float64, error)
}

// PnLHandler serves realized profit-and-loss totals from the trade store.
type PnLHandler struct {
	trades    PnLSource
	directory Directory
	logger    *slog.Logger
}

// NewPnLHandler creates a PnLHandler backed by the given trade store.
func NewPnLHandler(trades PnLSource, directory Directory, logger *slog.Logger) *PnLHandler {
	return &PnLHandler{
		trades:    trades,
		directory: directory,
		logger:    logger.With(slog.String("component", "api")),
	}
}

type pnlJSON struct {
	Strategy    string  `json:"strategy"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// GetPnL responds with realized PnL per strategy. With ?strategy=<name> it
// returns a single entry; without it, one entry per registered strategy.
// GET /api/pnl
func (h *PnLHandler) GetPnL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if name := r.URL.Query().Get("strategy"); name != "" {
		if _, err := h.directory.Get(name); err != nil {
			writeError(w, http.StatusNotFound, "unknown strategy: "+name)
			return
		}
		total, err := h.trades.TotalPnL(ctx, name)
		if err != nil {
			h.logger.Error("query pnl",
				slog.String("strategy", name),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "query pnl: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pnlJSON{Strategy: name, RealizedPnL: total})
		return
	}

	infos := h.directory.Infos()
	out := make([]pnlJSON, 0, len(infos))
	for _, info := range infos {
		total, err := h.trades.TotalPnL(ctx, info.Name)
		if err != nil {
			h.logger.Error("query pnl",
				slog.String("strategy", info.Name),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "query pnl: "+err.Error())
			return
		}
		out = append(out, pnlJSON{Strategy: info.Name, RealizedPnL: total})
	}
	writeJSON(w, http.StatusOK, out)
}
