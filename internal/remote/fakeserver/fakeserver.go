// Package fakeserver is an in-process backend speaking the remote package's
// REST protocol. It keeps entities in memory and can inject failures, which
// makes it the remote for `opsync serve-remote`, the scenario harness and the
// HTTP client's tests.
package fakeserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
)

// Fault makes matching requests fail.
//
// Empty Op, Kind and ID match anything. Times is the number of requests the
// fault applies to; zero means until cleared.
type Fault struct {
	Op      remote.Op     `yaml:"op"`
	Kind    ir.EntityKind `yaml:"kind"`
	ID      string        `yaml:"id"`
	Status  int           `yaml:"status"`
	Message string        `yaml:"message"`
	Delay   time.Duration `yaml:"delay"`
	Times   int           `yaml:"times"`
}

func (f Fault) matches(op remote.Op, ref ir.EntityRef) bool {
	return (f.Op == "" || f.Op == op) &&
		(f.Kind == "" || f.Kind == ref.Kind) &&
		(f.ID == "" || f.ID == ref.ID)
}

// Call records one request the server handled.
type Call struct {
	Op             remote.Op
	Ref            ir.EntityRef
	IdempotencyKey string
	Status         int
}

// Server is the fake backend.
type Server struct {
	echo   *echo.Echo
	logger *slog.Logger
	newID  func() string
	now    func() time.Time

	mu          sync.Mutex
	entities    map[ir.EntityRef]map[string]any
	createKeys  map[string]string
	faults      []*Fault
	calls       []Call
	inflight    map[ir.EntityRef]int
	maxInflight map[ir.EntityRef]int
}

// Option configures a Server.
type Option func(*Server)

// WithIDs replaces the server id generator ("srv-<uuid>").
func WithIDs(next func() string) Option {
	return func(s *Server) { s.newID = next }
}

// WithClock replaces the commit time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server with an empty entity set.
func New(opts ...Option) *Server {
	s := &Server{
		logger:      slog.Default(),
		newID:       func() string { return "srv-" + uuid.NewString() },
		now:         time.Now,
		entities:    make(map[ir.EntityRef]map[string]any),
		createKeys:  make(map[string]string),
		inflight:    make(map[ir.EntityRef]int),
		maxInflight: make(map[ir.EntityRef]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			s.logger.Debug("remote request",
				"method", req.Method,
				"uri", req.RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start))
			return nil
		}
	})
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group(remote.APIPrefix)
	api.GET("/:kind/:id", s.handleGet)
	api.POST("/:kind", s.handleCreate)
	api.PUT("/:kind/:id", s.handleUpdate)
	api.DELETE("/:kind/:id", s.handleDelete)

	s.echo = e
}

// ServeHTTP makes the server usable with httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Inject adds a fault. Faults are checked in insertion order.
func (s *Server) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// ClearFaults removes every fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Seed stores payload under ref as if it had been created earlier.
func (s *Server) Seed(ref ir.EntityRef, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := maps.Clone(payload)
	stored["id"] = ref.ID
	s.entities[ref] = stored
}

// Calls returns the requests handled so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// MaxInflight returns the highest number of concurrent requests seen for ref.
func (s *Server) MaxInflight(ref ir.EntityRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight[ref]
}

// Entity returns the stored payload of ref.
func (s *Server) Entity(ref ir.EntityRef) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entities[ref]
	if !ok {
		return nil, false
	}
	return maps.Clone(p), true
}

// Len returns the number of stored entities.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *Server) handleGet(c echo.Context) error {
	ref, err := refParam(c)
	if err != nil {
		return err
	}
	p, ok := s.Entity(ref)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, ref.String()+" not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreate(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	payload, err := bindPayload(c)
	if err != nil {
		return err
	}
	localID, _ := payload["id"].(string)
	ref := ir.Ref(kind, localID)
	key := c.Request().Header.Get(remote.HeaderIdempotencyKey)

	done, err := s.begin(c, remote.OpCreate, ref, key)
	if err != nil {
		return err
	}
	defer done()

	if err := validateRefs(payload); err != nil {
		return s.fail(remote.OpCreate, ref, key, err)
	}

	s.mu.Lock()
	if key != "" {
		if id, ok := s.createKeys[key]; ok {
			s.mu.Unlock()
			s.record(remote.OpCreate, ref, key, http.StatusOK)
			return c.JSON(http.StatusOK, remote.Response{ID: id, SyncedAt: s.now().UTC()})
		}
	}
	id := s.newID()
	stored := maps.Clone(payload)
	stored["id"] = id
	s.entities[ir.Ref(kind, id)] = stored
	if key != "" {
		s.createKeys[key] = id
	}
	s.mu.Unlock()

	s.record(remote.OpCreate, ref, key, http.StatusCreated)
	return c.JSON(http.StatusCreated, remote.Response{ID: id, SyncedAt: s.now().UTC()})
}

func (s *Server) handleUpdate(c echo.Context) error {
	ref, err := refParam(c)
	if err != nil {
		return err
	}
	payload, err := bindPayload(c)
	if err != nil {
		return err
	}
	key := c.Request().Header.Get(remote.HeaderIdempotencyKey)

	done, err := s.begin(c, remote.OpUpdate, ref, key)
	if err != nil {
		return err
	}
	defer done()

	if err := validateRefs(payload); err != nil {
		return s.fail(remote.OpUpdate, ref, key, err)
	}

	s.mu.Lock()
	if _, ok := s.entities[ref]; !ok {
		s.mu.Unlock()
		return s.fail(remote.OpUpdate, ref, key, echo.NewHTTPError(http.StatusNotFound, ref.String()+" not found"))
	}
	stored := maps.Clone(payload)
	stored["id"] = ref.ID
	s.entities[ref] = stored
	s.mu.Unlock()

	s.record(remote.OpUpdate, ref, key, http.StatusOK)
	return c.JSON(http.StatusOK, remote.Response{ID: ref.ID, SyncedAt: s.now().UTC()})
}

func (s *Server) handleDelete(c echo.Context) error {
	ref, err := refParam(c)
	if err != nil {
		return err
	}
	key := c.Request().Header.Get(remote.HeaderIdempotencyKey)

	done, err := s.begin(c, remote.OpDelete, ref, key)
	if err != nil {
		return err
	}
	defer done()

	s.mu.Lock()
	_, ok := s.entities[ref]
	delete(s.entities, ref)
	s.mu.Unlock()

	if !ok {
		s.record(remote.OpDelete, ref, key, http.StatusNotFound)
		return echo.NewHTTPError(http.StatusNotFound, ref.String()+" not found")
	}
	s.record(remote.OpDelete, ref, key, http.StatusNoContent)
	return c.NoContent(http.StatusNoContent)
}

// begin tracks the request as in flight and applies the first matching
// fault. The returned func must be called when the handler finishes.
func (s *Server) begin(c echo.Context, op remote.Op, ref ir.EntityRef, key string) (func(), error) {
	s.mu.Lock()
	s.inflight[ref]++
	if s.inflight[ref] > s.maxInflight[ref] {
		s.maxInflight[ref] = s.inflight[ref]
	}
	var fault *Fault
	for i, f := range s.faults {
		if !f.matches(op, ref) {
			continue
		}
		fault = f
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				s.faults = append(s.faults[:i:i], s.faults[i+1:]...)
			}
		}
		break
	}
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		s.inflight[ref]--
		s.mu.Unlock()
	}
	if fault == nil {
		return done, nil
	}

	if fault.Delay > 0 {
		select {
		case <-time.After(fault.Delay):
		case <-c.Request().Context().Done():
			done()
			s.record(op, ref, key, 0)
			return nil, c.Request().Context().Err()
		}
	}
	if fault.Status == 0 {
		return done, nil
	}
	done()
	msg := fault.Message
	if msg == "" {
		msg = http.StatusText(fault.Status)
	}
	return nil, s.fail(op, ref, key, echo.NewHTTPError(fault.Status, msg))
}

func (s *Server) fail(op remote.Op, ref ir.EntityRef, key string, err error) error {
	status := http.StatusInternalServerError
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
	}
	s.record(op, ref, key, status)
	return err
}

func (s *Server) record(op remote.Op, ref ir.EntityRef, key string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Ref: ref, IdempotencyKey: key, Status: status})
}

// validateRefs refuses payloads that point at ids the server never issued.
func validateRefs(payload map[string]any) error {
	for _, field := range []string{"project_id", "task_id", "calendar_event_id"} {
		if id, _ := payload[field].(string); ir.IsLocalID(id) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, field+" "+id+" is not a server id")
		}
	}
	if ids, ok := payload["task_ids"].([]any); ok {
		for _, v := range ids {
			if id, _ := v.(string); ir.IsLocalID(id) {
				return echo.NewHTTPError(http.StatusUnprocessableEntity, "task_ids "+id+" is not a server id")
			}
		}
	}
	return nil
}

// bindPayload decodes the JSON body. echo's Bind is avoided because it
// would also copy path params into the map.
func bindPayload(c echo.Context) (map[string]any, error) {
	var payload map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "decode payload: "+err.Error())
	}
	if payload == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty payload")
	}
	return payload, nil
}

func kindParam(c echo.Context) (ir.EntityKind, error) {
	kind, err := ir.ParseKind(strings.TrimSuffix(c.Param("kind"), "s"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return kind, nil
}

func refParam(c echo.Context) (ir.EntityRef, error) {
	kind, err := kindParam(c)
	if err != nil {
		return ir.EntityRef{}, err
	}
	return ir.Ref(kind, c.Param("id")), nil
}
