package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Pinger exposes the pool used by the health probe.  *database.Database
// satisfies it.
type Pinger interface {
	SQLX() *sqlx.DB
}

var errNotConnected = errors.New("database not connected")

type healthBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health answers 200 when `SELECT 1` succeeds within two seconds and 503
// otherwise, including before the database is connected.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, code := healthBody{Status: "ok", Database: "up"}, http.StatusOK

		if err := probe(r.Context(), db.SQLX()); err != nil {
			zap.S().Warnw("health probe failed", "error", err)
			body, code = healthBody{Status: "degraded", Database: "down"}, http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func probe(ctx context.Context, x *sqlx.DB) error {
	if x == nil {
		return errNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return x.GetContext(ctx, &one, "SELECT 1")
}

