// Package server binds the session protocol to a WebSocket transport and
// serves the operational HTTP endpoints (/healthz, /readyz, /metrics).
//
// Each accepted connection gets its own session controller and goroutine.
// Messages are read and dispatched strictly in arrival order, so the
// controller never sees an audio-stop before the chunks that preceded it. A
// fault on one connection ends that session only.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hearken-audio/hearken/internal/health"
	"github.com/hearken-audio/hearken/internal/info"
	"github.com/hearken-audio/hearken/internal/observe"
	"github.com/hearken-audio/hearken/internal/protocol"
	"github.com/hearken-audio/hearken/internal/registry"
	"github.com/hearken-audio/hearken/internal/session"
	"github.com/hearken-audio/hearken/pkg/vad"
)

// readLimit caps a single WebSocket message. Audio chunks are small (tens of
// milliseconds of PCM), so 1 MiB is generous.
const readLimit = 1 << 20

// shutdownTimeout bounds the HTTP server drain on Run exit.
const shutdownTimeout = 10 * time.Second

// Config carries the transport settings.
type Config struct {
	ListenAddr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	Session session.Config
}

// Server accepts detection sessions over WebSocket.
type Server struct {
	cfg     Config
	log     *slog.Logger
	reg     *registry.Registry
	pub     *info.Publisher
	vadEng  vad.Engine
	metrics *observe.Metrics
	probes  *health.Handler

	nextID atomic.Uint64
}

// New creates a server. vadEngine and metrics may be nil.
func New(cfg Config, log *slog.Logger, reg *registry.Registry, pub *info.Publisher, vadEngine vad.Engine, metrics *observe.Metrics, probes *health.Handler) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		pub:     pub,
		vadEng:  vadEngine,
		metrics: metrics,
		probes:  probes,
	}
}

// Handler returns the HTTP routing for the server, wrapped in the tracing
// middleware. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", s.handleSession)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.probes != nil {
		s.probes.Register(mux)
	}
	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// Run serves until ctx is cancelled, then drains with a deadline.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", true)
			err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", false)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleSession upgrades the connection and runs the session loop until the
// client goes away.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	id := fmt.Sprintf("sess-%d", s.nextID.Add(1))
	ctx, span := observe.StartSpan(r.Context(), "session",
		trace.WithAttributes(attribute.String("session", id)))
	defer span.End()

	log := s.log.With("session", id, "remote", r.RemoteAddr)
	if cid := observe.CorrelationID(ctx); cid != "" {
		log = log.With("trace_id", cid)
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(ctx, -1)
	}

	ctrl, err := session.New(id, s.cfg.Session, s.log, s.reg, s.pub, s.vadEng, &wsEmitter{conn: conn}, s.metrics)
	if err != nil {
		log.Error("session setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	defer ctrl.Close()

	log.Info("session opened")
	err = s.readLoop(ctx, conn, ctrl)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
		log.Info("session closed")
	case websocket.CloseStatus(err) != -1:
		log.Info("session closed by client", "status", websocket.CloseStatus(err))
	default:
		log.Warn("session ended", "error", err)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
}

// readLoop dispatches inbound messages to the controller in arrival order.
// It returns nil on a clean client close and the underlying error otherwise.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, ctrl *session.Controller) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			err = ctrl.HandleAudioChunk(ctx, data)
		case websocket.MessageText:
			err = s.dispatch(ctx, ctrl, data)
		}
		if err != nil {
			return err
		}
	}
}

// dispatch decodes a control envelope and routes it. Malformed input is
// answered with an error message; it never ends the session.
func (s *Server) dispatch(ctx context.Context, ctrl *session.Controller, raw []byte) error {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return ctrl.EmitError(ctx, protocol.ErrKindBadRequest, err.Error())
	}

	switch env.Type {
	case protocol.TypeDescribe:
		return ctrl.HandleDescribe(ctx)
	case protocol.TypeDetect:
		var d protocol.Detect
		if err := protocol.DecodeData(env, &d); err != nil {
			return ctrl.EmitError(ctx, protocol.ErrKindBadRequest, err.Error())
		}
		return ctrl.HandleDetect(ctx, d.Names)
	case protocol.TypeAudioStart:
		var a protocol.AudioStart
		if err := protocol.DecodeData(env, &a); err != nil {
			return ctrl.EmitError(ctx, protocol.ErrKindBadRequest, err.Error())
		}
		return ctrl.HandleAudioStart(ctx, a)
	case protocol.TypeAudioStop:
		return ctrl.HandleAudioStop(ctx)
	default:
		return ctrl.EmitError(ctx, protocol.ErrKindBadRequest, fmt.Sprintf("unsupported message type %q", env.Type))
	}
}

// wsEmitter sends outbound control messages as JSON text frames.
type wsEmitter struct {
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(ctx context.Context, typ string, data any) error {
	b, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	return e.conn.Write(ctx, websocket.MessageText, b)
}
