package main

import (
	"bytes"
	"image/png"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

//---------------- HTTP Surface ----------------

// httpServer exposes the framebuffer preview, pipeline status, the
// state-store POST hook the integrations use, the telemetry graph and
// prometheus metrics. Presentation only; nothing here touches pipeline
// state beyond snapshots.
type httpServer struct {
	log     *zap.Logger
	addr    string
	comp    *Compositor
	nav     *NavigationController
	queue   *EventQueue
	store   *StateStore
	history *telemetryHistory
	notes   *notificationFeed

	// flag picked up by the render loop; screens stay single-writer
	invalidate *atomic.Bool

	app *fiber.App
}

func newHTTPServer(log *zap.Logger, addr string, comp *Compositor, nav *NavigationController,
	queue *EventQueue, store *StateStore, history *telemetryHistory, notes *notificationFeed,
	invalidate *atomic.Bool) *httpServer {
	s := &httpServer{
		log:        log,
		addr:       addr,
		comp:       comp,
		nav:        nav,
		queue:      queue,
		store:      store,
		history:    history,
		notes:      notes,
		invalidate: invalidate,
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/frame.png", s.serveFrame)
	app.Get("/status", s.serveStatus)
	app.Post("/data", s.updateData)
	app.Post("/notify", s.postNotify)
	app.Get("/graph.svg", s.serveGraph)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app = app
	return s
}

func (s *httpServer) Run() {
	if err := s.app.Listen(s.addr); err != nil {
		s.log.Error("http server stopped", zap.Error(err))
	}
}

func (s *httpServer) Shutdown() {
	_ = s.app.Shutdown()
}

func (s *httpServer) serveFrame(c *fiber.Ctx) error {
	frame := s.comp.SnapshotFrame()
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to encode image")
	}
	c.Set("Content-Type", "image/png")
	c.Set("Content-Length", strconv.Itoa(buf.Len()))
	return c.Send(buf.Bytes())
}

func (s *httpServer) serveStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"screen":          s.nav.Current().String(),
		"stack_depth":     s.nav.Depth(),
		"can_go_back":     s.nav.CanGoBack(),
		"queue_len":       s.queue.Len(),
		"queue_cap":       s.queue.Cap(),
		"queue_sent":      s.queue.Sent(),
		"queue_dropped":   s.queue.Dropped(),
		"partial_updates": s.comp.PartialUpdateCount(),
		"needs_full":      s.comp.NeedsFullRefresh(),
		"notifications":   s.notes.List(),
		"state":           s.store.Snapshot(),
	})
}

// updateData lets external integrations push key/value state. Screens
// pick the changes up on their next render.
func (s *httpServer) updateData(c *fiber.Ctx) error {
	var data map[string]string
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid JSON")
	}
	for k, v := range data {
		s.store.Set(k, v)
	}
	// external state changed under the active screen; the render loop
	// picks the flag up on its next tick
	s.invalidate.Store(true)
	return c.SendString("Data updated")
}

func (s *httpServer) postNotify(c *fiber.Ctx) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&body); err != nil || body.Message == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid JSON")
	}
	s.notes.Add(body.Message)
	return c.SendString("OK")
}

func (s *httpServer) serveGraph(c *fiber.Ctx) error {
	c.Set("Content-Type", "image/svg+xml")
	return c.Send(renderGraphSVG(s.history))
}
