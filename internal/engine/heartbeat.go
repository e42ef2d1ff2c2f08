package engine

import (
	"context"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
)

// startHeartbeat launches a goroutine that refreshes runs.heartbeat_at
// every HeartbeatInterval while a station is in progress. A failed write
// is logged and the loop continues; the goroutine exits when ctx is
// cancelled.
func (w *Worker) startHeartbeat(ctx context.Context, runID, stationName string) {
	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res := w.db.Model(&models.Run{}).
					Where("id = ? AND status = ?", runID, station.RunRunning).
					Updates(map[string]interface{}{
						"heartbeat_at":    time.Now(),
						"current_station": stationName,
					})
				if res.Error != nil {
					log.Printf("run.heartbeat.failed run=%s station=%s err=%v", runID, stationName, res.Error)
				}
			}
		}
	}()
}
