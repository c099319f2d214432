package projects

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/pkg/middleware"
)

// heartbeatInterval keeps proxies from closing idle streams and surfaces
// disconnected clients as write errors
const heartbeatInterval = 25 * time.Second

// EventsHandler streams project changes as server-sent events
type EventsHandler struct {
	service   *Service
	notifier  Notifier
	refresher *Refresher
	metrics   *Metrics
	heartbeat time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(service *Service, notifier Notifier, metrics *Metrics) *EventsHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventsHandler{
		service:   service,
		notifier:  notifier,
		refresher: NewRefresher(service.ProjectByID),
		metrics:   metrics,
		heartbeat: heartbeatInterval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close ends every open stream
func (h *EventsHandler) Close() {
	h.cancel()
}

// Stream sends the caller's project view, then a "phases" event after
// every change notification
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	kit, err := kitQuery(c)
	if err != nil {
		return httputil.Error(c, err)
	}

	project, err := h.service.ProjectForUser(c.UserContext(), userID, kit)
	if err != nil {
		return httputil.Error(c, err)
	}
	initial, err := h.refresher.Load(c.UserContext(), project.ID)
	if err != nil {
		return httputil.Error(c, err)
	}

	// The stream outlives the handler, so it must not use c past this point
	signals, unsubscribe, err := h.notifier.Subscribe(h.ctx, project.ID)
	if err != nil {
		return httputil.Error(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	projectID := project.ID
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		h.metrics.subscriberDelta(1)
		defer h.metrics.subscriberDelta(-1)

		if err := h.stream(h.ctx, w, projectID, signals, initial); err != nil {
			log.Debug().Err(err).Str("project_id", projectID.String()).Msg("event stream closed")
		}
	})
	return nil
}

// stream writes events until ctx ends, signals closes or a write fails
func (h *EventsHandler) stream(ctx context.Context, w *bufio.Writer, projectID uuid.UUID, signals <-chan struct{}, initial *ProjectView) error {
	if err := writeEvent(w, "phases", initial); err != nil {
		return err
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signals:
			if !ok {
				return nil
			}
			view := h.refresher.Refresh(ctx, projectID)
			if view == nil {
				continue
			}
			if err := writeEvent(w, "phases", view); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
