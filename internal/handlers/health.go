package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/models"
)

// HealthHandler handles GET /health.
func HealthHandler(db *sql.DB, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := database.CountFiles(db)
		if err != nil {
			sendJSON(w, http.StatusServiceUnavailable, models.HealthResponse{
				Status:        "unhealthy",
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			})
			return
		}

		sendJSON(w, http.StatusOK, models.HealthResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			TotalFiles:    total,
		})
	}
}
