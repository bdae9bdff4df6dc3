// Package observability exposes a read-only JSON snapshot of every
// running engine over plain HTTP, for curl-based inspection and
// lightweight external polling.
package observability

import (
	"encoding/json"
	"net/http"

	"market_maker/internal/core"
	"market_maker/internal/gridengine"
)

// Snapshotter exposes per-engine read-only views. Implemented by
// *gridengine.Engine.
type Snapshotter interface {
	Snapshot() gridengine.EngineView
}

// Handler serves GET /engines with every tracked engine's current
// snapshot.
type Handler struct {
	logger  core.ILogger
	engines []Snapshotter
}

// NewHandler builds a Handler over a fixed set of engines, resolved
// once at startup.
func NewHandler(logger core.ILogger, engines []Snapshotter) *Handler {
	return &Handler{logger: logger, engines: engines}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	views := make([]gridengine.EngineView, 0, len(h.engines))
	for _, e := range h.engines {
		views = append(views, e.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.logger.Warn("observability encode failed", "error", err)
	}
}

// Mux builds the minimal HTTP mux this handler is served behind.
func Mux(logger core.ILogger, engines []Snapshotter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/engines", NewHandler(logger, engines))
	return mux
}
