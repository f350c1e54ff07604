// Package health — liveness и readiness: БД доступна, строка конфига выборов на месте.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"campusvote/internal/election"
	"campusvote/internal/logs"
	"campusvote/internal/models"
	"campusvote/internal/repo"
)

const readyTimeout = 2 * time.Second

// Checker — проверки readiness. Now нужен для состояния окна выборов.
type Checker struct {
	DB  *gorm.DB
	Now func() time.Time
}

// Report — тело /readyz.
type Report struct {
	Database       string `json:"database"`
	ElectionConfig string `json:"election_config"`
	Window         string `json:"election_window,omitempty"`
}

func (r Report) ok() bool { return r.Database == "ok" && r.ElectionConfig == "ok" }

// RegisterRoutes — базовый liveness.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
}

// RegisterRoutesWithDB — liveness + readiness.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB) {
	RegisterRoutes(r)
	c := &Checker{DB: db, Now: time.Now}
	r.HandleFunc("/readyz", c.Ready).Methods(http.MethodGet)
}

// Check пингует БД и читает конфиг выборов (строка создаётся, если её нет).
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{Database: "unavailable", ElectionConfig: "unknown"}
	if c.DB == nil {
		rep.Database = "not configured"
		return rep
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return rep
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		logs.Logger.WithError(err).Warn("readiness: db ping failed")
		return rep
	}
	rep.Database = "ok"

	cfg, err := repo.NewElectionStore(c.DB).GetOrCreateConfig(ctx)
	if err != nil {
		logs.Logger.WithError(err).Warn("readiness: election config unavailable")
		rep.ElectionConfig = "unavailable"
		return rep
	}
	rep.ElectionConfig = "ok"
	rep.Window = election.ForConfig(c.Now(), cfg).State()
	return rep
}

func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	rep := c.Check(r.Context())
	if !rep.ok() {
		models.WriteJSON(w, http.StatusServiceUnavailable, models.Envelope{
			Status: models.StatusError, Detail: "Service is not ready.", Data: rep,
		})
		return
	}
	models.WriteSuccess(w, "ok", rep)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
