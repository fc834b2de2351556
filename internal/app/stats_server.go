package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"polywatch/internal/store"
	"time"

	"go.uber.org/zap"
)

// ServiceStats is the payload served by /statz.
type ServiceStats struct {
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	WatchedAddresses int `json:"watched_addresses"`

	Alerts struct {
		DmsSent     int64 `json:"dms_sent"`
		StakeAlerts int64 `json:"stake_alerts"`
		WinAlerts   int64 `json:"win_alerts"`
		LossAlerts  int64 `json:"loss_alerts"`
	} `json:"alerts"`

	Broadcast struct {
		Sent  int64                `json:"sent"`
		Stats store.BroadcastStats `json:"dedupe"`
	} `json:"broadcast"`

	Cycles struct {
		Completed int64 `json:"completed"`
		Skipped   int64 `json:"skipped"`
	} `json:"cycles"`
}

// newStatsServer builds the health/stats HTTP server.
func newStatsServer(logger *zap.Logger, port int, st store.Store, metrics *Metrics) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/statz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var stats ServiceStats
		uptime := metrics.Uptime()
		stats.Uptime = uptime.Round(time.Second).String()
		stats.UptimeSec = int64(uptime.Seconds())

		if addrs, err := st.WatchedAddresses(ctx); err == nil {
			stats.WatchedAddresses = len(addrs)
		} else {
			logger.Warn("stats: failed to list watched addresses", zap.Error(err))
		}

		stats.Alerts.DmsSent = metrics.dmsSent.Load()
		stats.Alerts.StakeAlerts = metrics.stakeAlerts.Load()
		stats.Alerts.WinAlerts = metrics.winAlerts.Load()
		stats.Alerts.LossAlerts = metrics.lossAlerts.Load()

		stats.Broadcast.Sent = metrics.broadcastsSent.Load()
		if bs, err := st.BroadcastStatsNow(ctx); err == nil {
			stats.Broadcast.Stats = bs
		} else {
			logger.Warn("stats: failed to read broadcast stats", zap.Error(err))
		}

		stats.Cycles.Completed = metrics.cyclesCompleted.Load()
		stats.Cycles.Skipped = metrics.cyclesSkipped.Load()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
