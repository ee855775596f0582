// Package client maintains one persistent connection to a policy
// server: dial with backoff, handshake validation against the local
// embodiment spec, and a strictly serialized request/response exchange.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol"
	"github.com/okaneko/policylink/internal/protocol/frame"
)

var (
	ErrAddressRequired = errors.New("client: server address required")

	// ErrConfigMismatch is fatal: the embodiment spec does not fit the
	// model the server declared. Restart with a corrected spec; never
	// retry.
	ErrConfigMismatch = errors.New("client: embodiment incompatible with server interface")

	// ErrTransport marks a dead connection. The caller must Redial
	// (which re-handshakes) before issuing any further request.
	ErrTransport = errors.New("client: transport failure")

	// ErrRequestTimeout marks an inference call that exceeded the
	// request timeout. The connection is treated as dead.
	ErrRequestTimeout = errors.New("client: request timed out")

	ErrConnectionDead = errors.New("client: connection dead, redial required")
)

// Config configures one policy connection.
type Config struct {
	Address            string
	MaxConnectAttempts int
	Session            SessionConfig
}

// Client is a single-outstanding-request policy connection. Infer is
// serialized: the protocol permits no pipelining.
type Client struct {
	cfg  Config
	spec canonical.EmbodimentSpec
	rng  *rand.Rand

	mu            sync.Mutex
	conn          net.Conn
	reader        *bufio.Reader
	iface         canonical.Interface
	dead          bool
	nextMessageID atomic.Uint64
}

// Dial connects, reads the server handshake, and validates it against
// spec. Transport failures are retried with backoff; a handshake
// mismatch is returned immediately as ErrConfigMismatch.
func Dial(ctx context.Context, cfg Config, spec canonical.EmbodimentSpec) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()

	c := &Client{
		cfg:  cfg,
		spec: spec,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.nextMessageID.Store(uint64(time.Now().UnixNano()))
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Interface returns the canonical interface negotiated at handshake.
func (c *Client) Interface() canonical.Interface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iface
}

func (c *Client) connect(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			if err = c.handshake(conn); err == nil {
				return nil
			}
			_ = conn.Close()
			if errors.Is(err, ErrConfigMismatch) {
				return err
			}
		}
		log.Warn().Int("attempt", attempt).Str("addr", c.cfg.Address).Err(err).Msg("policy dial failed")
		if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		delay := NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if err := c.cfg.Session.ValidateTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.tlsConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.Session.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(c.cfg.Session.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(c.cfg.Address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.cfg.Session.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("client: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if c.cfg.Session.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.cfg.Session.TLS.CertFile, c.cfg.Session.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (c *Client) handshake(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	hs, err := protocol.ReadHandshake(reader)
	if err != nil {
		return err
	}
	iface := hs.Interface()
	if err := c.spec.CompatibleWith(iface); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigMismatch, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.iface = iface
	c.dead = false
	c.mu.Unlock()

	log.Info().
		Str("model", iface.ModelID).
		Int("horizon", iface.ActionHorizon).
		Int("action_dim", iface.ActionDim).
		Strs("camera_slots", iface.CameraSlots).
		Msg("policy handshake complete")
	return nil
}

// Infer sends one canonical observation and waits for the action chunk.
// A *protocol.ProtocolError return leaves the connection usable; any
// transport error (including timeout) marks it dead until Redial.
func (c *Client) Infer(ctx context.Context, obs canonical.Observation) (canonical.ActionChunk, map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.dead {
		return nil, nil, ErrConnectionDead
	}

	msgID := c.nextMessageID.Add(1)
	payload, err := protocol.EncodeObservationFrame(msgID, obs, c.iface.CameraSlots)
	if err != nil {
		return nil, nil, err
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.cfg.Session.WriteTimeout)); err != nil {
		return nil, nil, c.markDead(err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, nil, c.markDead(err)
	}

	if err := c.conn.SetReadDeadline(c.deadline(ctx, c.cfg.Session.RequestTimeout)); err != nil {
		return nil, nil, c.markDead(err)
	}
	fr, err := frame.ReadFrame(c.reader, frame.DefaultLimits())
	if err != nil {
		return nil, nil, c.markDead(err)
	}
	if fr.Header.MessageID != msgID {
		return nil, nil, c.markDead(fmt.Errorf("response message_id %d, want %d", fr.Header.MessageID, msgID))
	}

	if fr.Header.Flags&frame.FlagIsError != 0 {
		perr, err := protocol.DecodeErrorFrame(fr)
		if err != nil {
			return nil, nil, c.markDead(err)
		}
		return nil, nil, perr
	}

	chunk, timing, err := protocol.DecodeActionChunkFrame(fr)
	if err != nil {
		return nil, nil, c.markDead(err)
	}
	if len(chunk) != c.iface.ActionHorizon {
		return nil, nil, c.markDead(fmt.Errorf("chunk length %d, negotiated horizon %d", len(chunk), c.iface.ActionHorizon))
	}
	return chunk, timing, nil
}

// Redial tears down the current connection and re-handshakes. Required
// after any ErrTransport before further requests.
func (c *Client) Redial(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.dead = true
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// markDead poisons the connection. A partial exchange can never be
// resumed: every sent request is either fully answered or the
// connection is declared dead here.
func (c *Client) markDead(cause error) error {
	c.dead = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	var ne net.Error
	if errors.As(cause, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrRequestTimeout, ErrTransport)
	}
	return fmt.Errorf("%w: %v", ErrTransport, cause)
}

func (c *Client) deadline(ctx context.Context, budget time.Duration) time.Time {
	deadline := time.Now().Add(budget)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
