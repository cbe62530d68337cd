// Package feed accepts chess game events over a websocket and hands them to
// a sonifier.
//
// Every text message is one JSON-encoded [chess.Event]. The server answers
// each message with an [Ack] on the same connection. Events are limited per
// connection; over-limit, malformed and invalid events are acknowledged with
// a status and never close the stream, and neither do voices the mixer had
// no room for.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/sonichess/internal/chess"
	"github.com/MrWong99/sonichess/internal/observe"
	"github.com/MrWong99/sonichess/internal/sonify"
)

// Defaults for [New].
const (
	DefaultRate  = 20
	DefaultBurst = 40

	// maxMessageBytes bounds a single event message.
	maxMessageBytes = 16 << 10
)

// Handler receives decoded events. [sonify.Sonifier] implements it.
type Handler interface {
	OnEvent(ctx context.Context, e chess.Event) error
}

// Ack is the reply to every message.
type Ack struct {
	// Seq is the 1-based number of the message on its connection.
	Seq uint64 `json:"seq"`

	// Status is one of accepted, dropped, invalid or rate_limited.
	Status string `json:"status"`

	// CorrelationID is the trace id of the span that handled the message.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Error describes why the event was not fully played.
	Error string `json:"error,omitempty"`
}

// Server is an [http.Handler] that upgrades requests to websockets.
type Server struct {
	handler        Handler
	limit          rate.Limit
	burst          int
	metrics        *observe.Metrics
	originPatterns []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	conns  atomic.Int64
}

// Option configures a [Server].
type Option func(*Server)

// WithRate sets the per-connection event rate and burst.
func WithRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limit = rate.Limit(perSecond)
		}
		if burst > 0 {
			s.burst = burst
		}
	}
}

// WithMetrics records feed metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin clients whose host matches one of
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// New returns a feed server delivering events to h.
func New(h Handler, opts ...Option) *Server {
	s := &Server{
		handler: h,
		limit:   DefaultRate,
		burst:   DefaultBurst,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int64 { return s.conns.Load() }

// Close disconnects every client and waits for their handlers to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("feed: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	s.wg.Add(1)
	defer s.wg.Done()

	// Hijacked connections outlive http.Server.Shutdown, so Close cancels
	// them explicitly.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.conns.Add(1)
	s.metrics.FeedConnections.Add(ctx, 1)
	defer func() {
		s.conns.Add(-1)
		s.metrics.FeedConnections.Add(context.Background(), -1)
	}()

	log := slog.With("remote", r.RemoteAddr)
	log.Info("feed: client connected")

	err = s.serve(ctx, conn)
	switch {
	case err == nil, s.ctx.Err() != nil:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		log.Info("feed: client disconnected by shutdown")
	case isClientClose(err):
		log.Info("feed: client disconnected")
	default:
		conn.Close(websocket.StatusInternalError, "feed error")
		log.Warn("feed: connection closed", "err", err)
	}
}

// serve reads messages until the connection or ctx ends.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	limiter := rate.NewLimiter(s.limit, s.burst)
	var seq uint64
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		seq++

		ack := s.handle(ctx, seq, typ, data, limiter)
		if err := wsjson.Write(ctx, conn, ack); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle processes one message and builds its acknowledgement.
func (s *Server) handle(ctx context.Context, seq uint64, typ websocket.MessageType, data []byte, limiter *rate.Limiter) Ack {
	ctx, span := observe.StartSpan(ctx, "feed.event",
		trace.WithAttributes(attribute.Int64("feed.seq", int64(seq))),
	)
	ack := Ack{Seq: seq, CorrelationID: observe.CorrelationID(ctx)}

	var (
		kind   = "unknown"
		result error
	)
	defer func() {
		s.metrics.RecordGameEvent(ctx, kind, ack.Status)
		span.SetAttributes(attribute.String("feed.status", ack.Status))
		observe.EndSpan(span, result)
	}()

	if !limiter.Allow() {
		ack.Status = observe.StatusLimited
		return ack
	}

	var e chess.Event
	if typ != websocket.MessageText {
		result = errors.New("feed: binary messages are not supported")
	} else if err := json.Unmarshal(data, &e); err != nil {
		result = err
	}
	if result != nil {
		ack.Status = observe.StatusInvalid
		ack.Error = result.Error()
		return ack
	}
	if e.Kind.IsValid() {
		kind = string(e.Kind)
	}

	result = s.handler.OnEvent(ctx, e)
	switch {
	case result == nil:
		ack.Status = observe.StatusAccepted
	case errors.Is(result, sonify.ErrInvalidEvent):
		ack.Status = observe.StatusInvalid
		ack.Error = result.Error()
	default:
		ack.Status = observe.StatusDropped
		ack.Error = result.Error()
		if !sonify.Dropped(result) {
			observe.Logger(ctx).Error("feed: sonifier failed", "seq", seq, "err", result)
		}
	}
	return ack
}

func isClientClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
