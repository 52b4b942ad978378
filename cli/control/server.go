package control

import (
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"feedpipe/app"
	"feedpipe/domain"
)

var ErrAlreadyRunning = errors.New("already running")

// TryListen tries to bind the control address. If it's already in use, we assume an instance is running.
func TryListen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ErrAlreadyRunning
	}
	return ln, nil
}

// WorkerPool is the part of the worker pool the control API can change.
type WorkerPool interface {
	Resize(workers int) error
	CurrentWorkers() int
}

type Server struct {
	sources         *app.SourceService
	pool            WorkerPool
	defaultInterval time.Duration
	app             *fiber.App
}

func NewServer(sources *app.SourceService, pool WorkerPool, defaultInterval time.Duration) *Server {
	s := &Server{sources: sources, pool: pool, defaultInterval: defaultInterval}
	s.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.routes()
	return s
}

// App exposes the fiber application, mostly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	s.app.Post("/sources", s.handleCreate)
	s.app.Patch("/sources/:ref", s.handleUpdate)
	s.app.Delete("/sources/:ref", s.handleDelete)
	s.app.Post("/sources/:ref/fetch", s.handleFetch)
	s.app.Get("/sources/:ref/status", s.handleStatus)
	s.app.Post("/set-workers", s.handleSetWorkers)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

type sourceRequest struct {
	Name     *string `json:"name"`
	URL      *string `json:"url"`
	Interval *string `json:"interval"`
	UserID   string  `json:"user_id"`
}

type sourceView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Interval    string    `json:"interval"`
	FetchStatus string    `json:"fetch_status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewOf(src domain.Source) sourceView {
	return sourceView{
		ID:          src.ID,
		UserID:      src.UserID,
		Name:        src.Name,
		URL:         src.URL,
		Interval:    src.FetchInterval.String(),
		FetchStatus: src.FetchStatus.String(),
		CreatedAt:   src.CreatedAt,
		UpdatedAt:   src.UpdatedAt,
	}
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	var req sourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "bad request")
	}
	if req.Name == nil || req.URL == nil {
		return badRequest(c, "name and url are required")
	}
	interval := s.defaultInterval
	if req.Interval != nil && *req.Interval != "" {
		d, err := time.ParseDuration(*req.Interval)
		if err != nil {
			return badRequest(c, "invalid interval: "+err.Error())
		}
		interval = d
	}

	src, err := s.sources.Create(c.UserContext(), domain.Source{
		UserID:        req.UserID,
		Name:          *req.Name,
		URL:           *req.URL,
		FetchInterval: interval,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(src))
}

func (s *Server) handleUpdate(c *fiber.Ctx) error {
	src, err := s.sources.Resolve(c.UserContext(), c.Params("ref"))
	if err != nil {
		return fail(c, err)
	}
	var req sourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "bad request")
	}
	patch := app.SourcePatch{Name: req.Name, URL: req.URL}
	if req.Interval != nil {
		d, err := time.ParseDuration(*req.Interval)
		if err != nil {
			return badRequest(c, "invalid interval: "+err.Error())
		}
		patch.FetchInterval = &d
	}

	updated, err := s.sources.Update(c.UserContext(), src.ID, patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "old": viewOf(src), "new": viewOf(updated)})
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	src, err := s.sources.Resolve(c.UserContext(), c.Params("ref"))
	if err != nil {
		return fail(c, err)
	}
	if err := s.sources.Delete(c.UserContext(), src.ID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "deleted": src.ID})
}

func (s *Server) handleFetch(c *fiber.Ctx) error {
	src, err := s.sources.Resolve(c.UserContext(), c.Params("ref"))
	if err != nil {
		return fail(c, err)
	}
	trigger, err := s.sources.Fetch(c.UserContext(), src.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(trigger)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	src, err := s.sources.Resolve(c.UserContext(), c.Params("ref"))
	if err != nil {
		return fail(c, err)
	}
	report, err := s.sources.Status(c.UserContext(), src.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) handleSetWorkers(c *fiber.Ctx) error {
	var req struct {
		Workers int `json:"workers"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "bad request")
	}
	old := s.pool.CurrentWorkers()
	if err := s.pool.Resize(req.Workers); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(fiber.Map{"ok": true, "old": old, "new": req.Workers})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var (
		confErr  *domain.ConfigurationError
		fetchErr *domain.FetchError
		convErr  *domain.TypeConversionError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		status = fiber.StatusServiceUnavailable
	case errors.As(err, &confErr):
		status = fiber.StatusBadRequest
	case errors.As(err, &fetchErr), errors.As(err, &convErr):
		status = fiber.StatusBadGateway
	}
	if status == fiber.StatusInternalServerError {
		log.WithFields(log.Fields{"route": c.Route().Path, "error": err.Error()}).Error("Control request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
