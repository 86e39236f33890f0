package handlers

import (
	"context"
	"net/http"
	"time"
)

const (
	statusHealthy    = "healthy"
	healthPingBudget = 2 * time.Second
)

type healthResponse struct {
	API           string `json:"api"`
	Database      string `json:"database"`
	MessageBroker string `json:"message_broker"`
}

// Health reports dependency reachability. It always answers 200 so callers
// can read which dependency is down.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingBudget)
	defer cancel()

	writeJSON(w, http.StatusOK, healthResponse{
		API:           statusHealthy,
		Database:      componentStatus(ctx, api.database),
		MessageBroker: componentStatus(ctx, api.broker),
	})
}

// Root is the service banner.
func (api *API) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "API Gateway",
		"status":  "online",
		"version": api.version,
	})
}

func componentStatus(ctx context.Context, pinger Pinger) string {
	if pinger == nil {
		return "unhealthy: not configured"
	}
	if err := pinger.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return statusHealthy
}
