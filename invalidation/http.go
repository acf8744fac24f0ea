package invalidation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lattice-graph/entity-cache/telemetry"
)

// Handler exposes the external invalidation ingress: POST a JSON array of
// targets, each defaulting to OriginExternal when its "origin" field is
// absent.
type Handler struct {
	engine *Engine
}

// NewHandler wraps engine as an http.Handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var targets []Target
	if err := json.NewDecoder(r.Body).Decode(&targets); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for i := range targets {
		if targets[i].Origin == "" {
			targets[i].Origin = OriginExternal
		}
	}

	requestID := telemetry.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = telemetry.NewRequestID()
	}

	// The ingress acknowledges receipt immediately and runs the scan/delete
	// asynchronously so a slow scan never holds the HTTP connection open.
	go h.engine.Process(context.WithoutCancel(r.Context()), Event{Targets: targets}, requestID)

	w.WriteHeader(http.StatusAccepted)
}
