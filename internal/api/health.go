package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sqlchat/sqlchat/internal/config"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Service  string `json:"service,omitempty"`
	Error    string `json:"error,omitempty"`
}

func handleHealth(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Database == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
			Error:    "database is not configured",
		})
		return
	}

	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := deps.Database.Ping(ctx); err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "health_check_failed", "error", err.Error())
		}
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
			Error:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "healthy",
		Database: "connected",
		Service:  cfg.Service.Name,
	})
}
