// Package server owns the policy serving loop: one handshake per
// connection, then strictly request/response framed exchanges. Weights
// are immutable after load, so connections share the model without
// locking; inference itself is serialized through a fixed slot pool.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/model"
	"github.com/okaneko/policylink/internal/observability"
	"github.com/okaneko/policylink/internal/pipeline"
	"github.com/okaneko/policylink/internal/protocol"
	"github.com/okaneko/policylink/internal/protocol/frame"
)

var (
	ErrPolicyRequired   = errors.New("server: policy required")
	ErrPipelineRequired = errors.New("server: pipeline required")
)

// TLSConfig configures optional transport security on the policy
// listener.
type TLSConfig struct {
	Enabled  bool
	Mutual   bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// Config configures the policy server.
type Config struct {
	ListenAddr       string
	AdminAddr        string
	CorsOrigins      []string
	PoolSize         int
	HandshakeTimeout time.Duration
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":8090",
		AdminAddr:        ":8091",
		PoolSize:         1,
		HandshakeTimeout: 5 * time.Second,
	}
}

// SessionMeta is the observed state of one connected client.
type SessionMeta struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	Requests      uint64    `json:"requests"`
	LastRequestAt time.Time `json:"last_request_at,omitzero"`
	InFlight      bool      `json:"in_flight"`
}

// Server serves one model instance over concurrently accepted
// connections.
type Server struct {
	cfg    Config
	iface  canonical.Interface
	pipe   *pipeline.Pipeline
	policy model.Policy
	slots  chan struct{}
	limits frame.Limits

	mu       sync.RWMutex
	sessions map[string]*SessionMeta
	started  time.Time
}

// New builds a server around one loaded policy and its pipeline.
func New(cfg Config, iface canonical.Interface, pipe *pipeline.Pipeline, policy model.Policy) (*Server, error) {
	if policy == nil {
		return nil, ErrPolicyRequired
	}
	if pipe == nil {
		return nil, ErrPipelineRequired
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	slots := make(chan struct{}, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		slots <- struct{}{}
	}
	return &Server{
		cfg:      cfg,
		iface:    iface,
		pipe:     pipe,
		policy:   policy,
		slots:    slots,
		limits:   frame.DefaultLimits(),
		sessions: make(map[string]*SessionMeta),
		started:  time.Now(),
	}, nil
}

// Interface returns the canonical interface this server declares at
// handshake.
func (s *Server) Interface() canonical.Interface { return s.iface }

// Listen opens the policy listener, wrapping it in TLS when configured.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	if !s.cfg.TLS.Enabled {
		return ln, nil
	}
	tlsCfg, err := s.serverTLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}

func (s *Server) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if s.cfg.TLS.Mutual {
		caPEM, err := os.ReadFile(s.cfg.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("server: parse tls ca bundle: %s", s.cfg.TLS.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Serve accepts connections until ctx is canceled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sessionID := uuid.NewString()
	meta := &SessionMeta{
		ID:          sessionID,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sessionID] = meta
	s.mu.Unlock()
	observability.SessionOpened()

	logger := log.With().Str("session", sessionID).Str("remote", meta.RemoteAddr).Logger()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		observability.SessionClosed()
		logger.Info().Msg("session closed")
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if err := protocol.WriteHandshake(conn, protocol.HandshakeFromInterface(s.iface)); err != nil {
		logger.Warn().Err(err).Msg("handshake write failed")
		return
	}
	_ = conn.SetDeadline(time.Time{})
	logger.Info().Str("model", s.iface.ModelID).Msg("session established")

	// Strict request/response: at most one decoded request per
	// connection is in flight, so per-connection memory is bounded by
	// one observation.
	for {
		if ctx.Err() != nil {
			return
		}
		fr, err := frame.ReadFrame(conn, s.limits)
		if err != nil {
			if !errors.Is(err, frame.ErrShortHeader) {
				logger.Warn().Err(err).Msg("frame read failed")
			}
			return
		}

		resp := s.handleRequest(ctx, meta, fr, logger)
		if _, err := conn.Write(resp); err != nil {
			logger.Warn().Err(err).Msg("response write failed")
			return
		}
	}
}

// handleRequest decodes, serves, and encodes one exchange. Malformed
// requests produce a structured error frame on the open connection.
func (s *Server) handleRequest(ctx context.Context, meta *SessionMeta, fr frame.Frame, logger zerolog.Logger) []byte {
	start := time.Now()
	s.mu.Lock()
	meta.Requests++
	meta.LastRequestAt = start
	meta.InFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		meta.InFlight = false
		s.mu.Unlock()
	}()

	chunk, inferDur, perr := s.serve(ctx, fr)
	if perr != nil {
		observability.RecordInference(s.iface.ModelID, perr.Code.String(), time.Since(start))
		logger.Warn().Str("code", perr.Code.String()).Str("reason", perr.Message).Msg("request rejected")
		out, err := protocol.EncodeErrorFrame(fr.Header.MessageID, perr)
		if err != nil {
			logger.Error().Err(err).Msg("error frame encode failed")
			return nil
		}
		return out
	}

	timing := map[string]float64{
		"infer_ms": float64(inferDur.Microseconds()) / 1000.0,
		"total_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	}
	out, err := protocol.EncodeActionChunkFrame(fr.Header.MessageID, chunk, timing)
	if err != nil {
		logger.Error().Err(err).Msg("response encode failed")
		return nil
	}
	observability.RecordInference(s.iface.ModelID, "ok", inferDur)
	logger.Debug().Dur("infer", inferDur).Dur("total", time.Since(start)).Msg("chunk served")
	return out
}

func (s *Server) serve(ctx context.Context, fr frame.Frame) (canonical.ActionChunk, time.Duration, *protocol.ProtocolError) {
	obs, err := protocol.DecodeObservationFrame(fr, s.iface.CameraSlots)
	if err != nil {
		return nil, 0, classify(err)
	}
	if err := s.pipe.Normalize(&obs); err != nil {
		return nil, 0, classify(err)
	}

	// Only the inference call holds a model slot; decode and encode run
	// concurrently across connections.
	select {
	case <-ctx.Done():
		return nil, 0, &protocol.ProtocolError{Code: protocol.CodeModelError, Message: "server shutting down"}
	case <-s.slots:
	}
	inferStart := time.Now()
	chunk, err := s.policy.Infer(ctx, obs)
	inferDur := time.Since(inferStart)
	s.slots <- struct{}{}
	if err != nil {
		return nil, inferDur, &protocol.ProtocolError{Code: protocol.CodeModelError, Message: err.Error()}
	}

	chunk, err = s.pipe.Backward(chunk, obs.State)
	if err != nil {
		return nil, inferDur, &protocol.ProtocolError{Code: protocol.CodeModelError, Message: err.Error()}
	}
	if len(chunk) != s.iface.ActionHorizon {
		return nil, inferDur, &protocol.ProtocolError{
			Code:    protocol.CodeModelError,
			Message: fmt.Sprintf("model produced %d actions, horizon is %d", len(chunk), s.iface.ActionHorizon),
		}
	}
	return chunk, inferDur, nil
}

func classify(err error) *protocol.ProtocolError {
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	var missing protocol.MissingFieldError
	if errors.As(err, &missing) {
		return &protocol.ProtocolError{Code: protocol.CodeMissingField, Message: missing.Error()}
	}
	var validation protocol.ValidationError
	if errors.As(err, &validation) {
		return &protocol.ProtocolError{Code: protocol.CodeMissingField, Message: validation.Error()}
	}
	if errors.Is(err, protocol.ErrInvalidLength) || errors.Is(err, protocol.ErrTruncated) {
		return &protocol.ProtocolError{Code: protocol.CodeShapeMismatch, Message: err.Error()}
	}
	return &protocol.ProtocolError{Code: protocol.CodeShapeMismatch, Message: err.Error()}
}

// SnapshotSessions returns observed session state for the admin surface.
func (s *Server) SnapshotSessions() []SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionMeta, 0, len(s.sessions))
	for _, meta := range s.sessions {
		out = append(out, *meta)
	}
	return out
}

// Uptime reports time since server construction.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}
