package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/http/middleware"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsPingInterval = 30 * time.Second
)

// jobEvents streams a StatusResponse per transition over a websocket. The
// first frame is the current state; the server closes after a terminal one.
func (api *API) jobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	// Subscribe before reading so no transition between the read and the
	// first frame is lost.
	updates, unsubscribe := api.events.Subscribe(jobID)
	defer unsubscribe()

	job, err := api.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to load job")
		return
	}

	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.Warn("websocket upgrade failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"job_id", jobID,
			"error", err,
		)
		return
	}
	defer conn.Close()
	// The server's ReadTimeout deadline survives the hijack.
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Frames from the client are ignored; a read error means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !api.sendJob(conn, job) || job.Status.Terminal() {
		api.closeEvents(conn)
		return
	}

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(eventsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case update := <-updates:
			if update.UpdatedAt.Before(job.UpdatedAt) {
				continue
			}
			if !api.sendJob(conn, &update) {
				return
			}
			if update.Status.Terminal() {
				api.closeEvents(conn)
				return
			}
		}
	}
}

func (api *API) sendJob(conn *websocket.Conn, job *domain.ReportJob) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	if err := conn.WriteJSON(statusResponse(job)); err != nil {
		api.logger.Debug("websocket write failed", "job_id", job.ID, "error", err)
		return false
	}
	return true
}

func (api *API) closeEvents(conn *websocket.Conn) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(eventsWriteTimeout))
}
