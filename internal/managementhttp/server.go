// Package managementhttp exposes the slice of the management surface
// the core itself must serve directly (spec section 6 of SPEC_FULL.md):
// health probe, per-component status, a query's result snapshot, and a
// result-delta subscription feed for the agent/IDE collaborators named
// in spec.md section 6. It is explicitly not the full REST/MCP
// management API (out of scope per spec.md section 1) — only this
// boundary, grounded on cli/root.go's echo bootstrap
// (middleware.Logger/Recover/CORS, graceful e.Shutdown) and
// tracing/logging.go's zerolog request-correlated logger.
package managementhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/factory"
	"github.com/flowgraphd/flowgraphd/internal/instance"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
)

// Server wraps one instance.Instance with an echo HTTP surface.
type Server struct {
	echo *echo.Echo
	inst *instance.Instance
	log  zerolog.Logger
}

// New builds a Server over inst, wiring the same middleware stack
// cli/root.go's runServer applies (request logging, panic recovery,
// CORS), plus zerolog request correlation per tracing/logging.go.
func New(inst *instance.Instance, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, inst: inst, log: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.log.Info().
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Dur("duration", time.Since(start)).
				Msg("request")
			return err
		}
	})

	s.echo.GET("/healthz", s.handleHealth)

	s.echo.POST("/v1/sources", s.handleCreateSource)
	s.echo.GET("/v1/sources", s.handleListSources)
	s.echo.GET("/v1/sources/:id", s.handleSourceStatus)
	s.echo.POST("/v1/sources/:id/start", s.handleStartSource)
	s.echo.POST("/v1/sources/:id/stop", s.handleStopSource)
	s.echo.DELETE("/v1/sources/:id", s.handleDeleteSource)

	s.echo.POST("/v1/queries", s.handleCreateQuery)
	s.echo.GET("/v1/queries", s.handleListQueries)
	s.echo.GET("/v1/queries/:id", s.handleQueryStatus)
	s.echo.POST("/v1/queries/:id/start", s.handleStartQuery)
	s.echo.POST("/v1/queries/:id/stop", s.handleStopQuery)
	s.echo.DELETE("/v1/queries/:id", s.handleDeleteQuery)
	s.echo.GET("/v1/queries/:id/results", s.handleQueryResults)
	s.echo.GET("/v1/queries/:id/stream", s.handleQueryStream)

	s.echo.POST("/v1/reactions", s.handleCreateReaction)
	s.echo.GET("/v1/reactions", s.handleListReactions)
	s.echo.GET("/v1/reactions/:id", s.handleReactionStatus)
	s.echo.POST("/v1/reactions/:id/start", s.handleStartReaction)
	s.echo.POST("/v1/reactions/:id/stop", s.handleStopReaction)
	s.echo.DELETE("/v1/reactions/:id", s.handleDeleteReaction)
}

// Start begins serving on addr. It returns only on a fatal listen error
// (mirrors cli/root.go's e.Start/http.ErrServerClosed check).
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("managementhttp: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, the same e.Shutdown(ctx)
// pattern cli/root.go's runServer uses on SIGINT/SIGTERM.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, coreerr.Unknown):
		return http.StatusNotFound
	case errors.Is(err, coreerr.Duplicate):
		return http.StatusConflict
	case errors.Is(err, coreerr.Config):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	return c.JSON(statusCode(err), map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(c echo.Context) error {
	health := s.inst.Probe()
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

// specRequest is the wire shape for creating a source/bootstrap-provider/
// reaction plugin instance.
type specRequest struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config"`
}

func (r specRequest) toSpec() factory.Spec {
	return factory.Spec{ID: r.ID, Kind: r.Kind, Config: r.Config}
}

func statusResponse(st lifecycle.Status) map[string]any {
	return map[string]any{
		"state":          st.State,
		"lastTransition": st.LastTransition,
		"lastError":      st.LastError,
		"retryable":      st.Retryable,
	}
}

func (s *Server) handleCreateSource(c echo.Context) error {
	var req specRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("%w: %v", coreerr.Config, err))
	}
	if err := s.inst.CreateSource(req.toSpec()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleListSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.inst.ListSources())
}

func (s *Server) handleSourceStatus(c echo.Context) error {
	st, err := s.inst.GetSourceStatus(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse(st))
}

func (s *Server) handleStartSource(c echo.Context) error {
	if err := s.inst.StartSource(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStopSource(c echo.Context) error {
	if err := s.inst.StopSource(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	if err := s.inst.DeleteSource(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// queryRequest is the wire shape for creating a continuous query.
type queryRequest struct {
	ID             string             `json:"id"`
	Text           string             `json:"text"`
	OutputCapacity int                `json:"outputCapacity"`
	Subscriptions  []subscriptionWire `json:"subscriptions"`
}

type subscriptionWire struct {
	SourceID            string   `json:"sourceId"`
	NodeLabels          []string `json:"nodeLabels"`
	RelationLabels      []string `json:"relationLabels"`
	QueueCapacity       int      `json:"queueCapacity"`
	EnableBootstrap     bool     `json:"enableBootstrap"`
	BootstrapProviderID string   `json:"bootstrapProviderId"`
	BootstrapBufferSize int      `json:"bootstrapBufferSize"`
}

func (s *Server) handleCreateQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("%w: %v", coreerr.Config, err))
	}

	subs := make([]instance.SubscriptionSpec, 0, len(req.Subscriptions))
	for _, sw := range req.Subscriptions {
		subs = append(subs, instance.SubscriptionSpec{
			SourceID:            sw.SourceID,
			NodeLabels:          sw.NodeLabels,
			RelationLabels:      sw.RelationLabels,
			QueueCapacity:       sw.QueueCapacity,
			EnableBootstrap:     sw.EnableBootstrap,
			BootstrapProviderID: sw.BootstrapProviderID,
			BootstrapBufferSize: sw.BootstrapBufferSize,
		})
	}

	spec := instance.QuerySpec{
		ID:             req.ID,
		Text:           req.Text,
		OutputCapacity: req.OutputCapacity,
		Subscriptions:  subs,
	}
	if err := s.inst.CreateQuery(spec); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleListQueries(c echo.Context) error {
	return c.JSON(http.StatusOK, s.inst.ListQueries())
}

func (s *Server) handleQueryStatus(c echo.Context) error {
	st, err := s.inst.GetQueryStatus(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse(st))
}

func (s *Server) handleStartQuery(c echo.Context) error {
	if err := s.inst.StartQuery(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStopQuery(c echo.Context) error {
	if err := s.inst.StopQuery(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteQuery(c echo.Context) error {
	if err := s.inst.DeleteQuery(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleQueryResults(c echo.Context) error {
	rows, err := s.inst.GetQueryResults(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// handleQueryStream serves the query's live ResultDelta feed as
// Server-Sent Events, the transport spec.md section 6 names for the
// "agent subscription feature".
func (s *Server) handleQueryStream(c echo.Context) error {
	out, err := s.inst.QueryOutput(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case delta, ok := <-out:
			if !ok {
				return nil
			}
			body, err := json.Marshal(delta)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// reactionRequest is the wire shape for creating a reaction.
type reactionRequest struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	Config            map[string]any `json:"config"`
	QueryIDs          []string       `json:"queryIds"`
	SnapshotOnAttach  bool           `json:"snapshotOnAttach"`
	EmitControlEvents bool           `json:"emitControlEvents"`
}

func (s *Server) handleCreateReaction(c echo.Context) error {
	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("%w: %v", coreerr.Config, err))
	}

	spec := factory.Spec{ID: req.ID, Kind: req.Kind, Config: req.Config}
	rspec := instance.ReactionSpec{
		ID:                req.ID,
		QueryIDs:          req.QueryIDs,
		SnapshotOnAttach:  req.SnapshotOnAttach,
		EmitControlEvents: req.EmitControlEvents,
	}
	if err := s.inst.CreateReaction(spec, rspec); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleListReactions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.inst.ListReactions())
}

func (s *Server) handleReactionStatus(c echo.Context) error {
	st, err := s.inst.GetReactionStatus(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse(st))
}

func (s *Server) handleStartReaction(c echo.Context) error {
	if err := s.inst.StartReaction(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStopReaction(c echo.Context) error {
	if err := s.inst.StopReaction(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteReaction(c echo.Context) error {
	if err := s.inst.DeleteReaction(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
