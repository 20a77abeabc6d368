package http

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aeytom/pulsemeter/command"
	"github.com/aeytom/pulsemeter/energy"
	"github.com/aeytom/pulsemeter/meter"
	"github.com/aeytom/pulsemeter/pulse"
	"github.com/aeytom/pulsemeter/report"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Meter exposes one running meter.
type Meter struct {
	Name      string
	Title     string
	Acc       *energy.Accumulator
	Capture   *pulse.Capture
	Scheduler *report.Scheduler
	Commands  *command.Queue
	// Session reports the broker session state; nil in test mode.
	Session func() bool
}

var _ meter.GetSet = (*Meter)(nil)

// ID …
func (m *Meter) ID() string { return strings.ToLower(m.Name) }

// Get returns the energy in kWh.
func (m *Meter) Get() float64 { return m.Acc.Snapshot().Energy }

// Label …
func (m *Meter) Label() string { return m.Title }

// Unit …
func (m *Meter) Unit() string { return "kWh" }

// Status is the JSON view of a meter.
type Status struct {
	Meter        string         `json:"meter"`
	Label        string         `json:"label"`
	Unit         string         `json:"unit"`
	State        energy.State   `json:"state"`
	ResetOnDrain bool           `json:"reset_on_drain"`
	Capture      pulse.Counters `json:"capture"`
	LastReport   *meter.Report  `json:"last_report,omitempty"`
	Session      *bool          `json:"session,omitempty"`
	CommandDrops uint32         `json:"command_drops"`
}

// Status …
func (m *Meter) Status() Status {
	s := Status{
		Meter:        m.ID(),
		Label:        m.Label(),
		Unit:         m.Unit(),
		State:        m.Acc.Snapshot(),
		ResetOnDrain: m.Acc.ResetOnDrain(),
		Capture:      m.Capture.Counters(),
		CommandDrops: m.Commands.Drops(),
	}
	if r, ok := m.Scheduler.Last(); ok {
		s.LastReport = &r
	}
	if m.Session != nil {
		up := m.Session()
		s.Session = &up
	}
	return s
}

// Server serves the meter api.
type Server struct {
	app    *fiber.App
	meters map[string]*Meter
}

// New …
func New(meters ...*Meter) *Server {
	s := &Server{
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
		meters: make(map[string]*Meter, len(meters)),
	}
	for _, m := range meters {
		s.meters[m.ID()] = m
	}

	s.app.Use(logHandler)
	s.app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	s.app.Get("/api", s.list)
	s.app.Get("/api/:meter", s.status)
	s.app.Get("/api/:meter/:option", s.option)
	s.app.Post("/api/:meter/cmd", s.command)
	return s
}

// App returns the fiber app, used by tests.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http api listening")
		errc <- s.app.Listen(addr)
	}()
	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errc:
		return err
	}
}

func (s *Server) list(c *fiber.Ctx) error {
	cacheHeader(c)
	ids := make([]string, 0, len(s.meters))
	for id := range s.meters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rtext string
	for _, id := range ids {
		link := fmt.Sprintf("%s/api/%s", c.BaseURL(), id)
		c.Append(fiber.HeaderLink, fmt.Sprintf("<%s>; rel=alternate", link))
		rtext += link + "\n"
	}
	return c.SendString(rtext)
}

func (s *Server) lookup(c *fiber.Ctx) (*Meter, error) {
	m, ok := s.meters[c.Params("meter")]
	if !ok {
		return nil, fiber.ErrNotFound
	}
	return m, nil
}

func (s *Server) status(c *fiber.Ctx) error {
	m, err := s.lookup(c)
	if err != nil {
		return err
	}
	cacheHeader(c)
	return c.JSON(m.Status())
}

func (s *Server) option(c *fiber.Ctx) error {
	m, err := s.lookup(c)
	if err != nil {
		return err
	}
	cacheHeader(c)
	switch c.Params("option") {
	case "label":
		return c.SendString(m.Label())
	case "unit":
		return c.SendString(m.Unit())
	case "value":
		return c.SendString(strconv.FormatFloat(m.Get(), 'f', 3, 64))
	default:
		return fiber.ErrNotFound
	}
}

func (s *Server) command(c *fiber.Ctx) error {
	m, err := s.lookup(c)
	if err != nil {
		return err
	}
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty command")
	}
	if err := m.Commands.Push(body); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	log.Info().Str("meter", m.ID()).Str("cmd", string(body[:1])).Msg("command queued via http")
	return c.SendStatus(fiber.StatusAccepted)
}

// logHandler …
func logHandler(c *fiber.Ctx) error {
	log.Debug().
		Str("method", c.Method()).
		Str("url", c.OriginalURL()).
		Str("proto", c.Protocol()).
		Str("agent", string(c.Request().Header.UserAgent())).
		Msg("http request")
	return c.Next()
}

// cacheHeader …
func cacheHeader(c *fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "must-revalidate, private, max-age=20")
}
