package frontend

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/plugins"
)

// tlsRecordTypeHandshake is the first byte of a TLS ClientHello. Used to
// sniff opportunistic TLS in prefer mode.
const tlsRecordTypeHandshake = 0x16

// lineHandler processes one request line and returns the response body.
type lineHandler func(ctx context.Context, line string) (*ResultSet, error)

// wireServer is the shared line-oriented TCP front for the database wire
// protocols. Each protocol contributes its handler; the server owns
// listening, TLS posture, connection limits and authentication.
type wireServer struct {
	name    string
	addr    string
	workers int
	tlsOpt  TLSOption
	handler lineHandler

	provider plugins.UserProvider

	tlsConfig *tls.Config
	ln        net.Listener
	sem       chan struct{}
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOne  sync.Once
}

func newWireServer(name, addr string, workers int, tlsOpt TLSOption, provider plugins.UserProvider, handler lineHandler) (*wireServer, error) {
	tlsConfig, err := tlsOpt.ServerConfig()
	if err != nil {
		return nil, fmt.Errorf("%s listener: %w", name, err)
	}
	if workers <= 0 {
		workers = 1
	}
	return &wireServer{
		name:      name,
		addr:      addr,
		workers:   workers,
		tlsOpt:    tlsOpt,
		handler:   handler,
		provider:  provider,
		tlsConfig: tlsConfig,
		sem:       make(chan struct{}, workers),
		quit:      make(chan struct{}),
	}, nil
}

func (s *wireServer) Name() string { return s.name }

func (s *wireServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("wire server listening",
		"protocol", s.name,
		"addr", ln.Addr().String(),
		"tls", string(s.tlsOpt.Mode))
	return nil
}

func (s *wireServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			logger.Warn("accept failed", "protocol", s.name, "error", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.quit:
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.serveConn(conn)
		}()
	}
}

// serveConn applies the TLS posture, then runs the line loop. Each request
// is a single line; each response is the result rows or an ERR line.
func (s *wireServer) serveConn(raw net.Conn) {
	defer raw.Close()

	conn, err := s.negotiate(raw)
	if err != nil {
		logger.Debug("connection setup failed", "protocol", s.name, "error", err)
		return
	}

	ctx := context.Background()
	scanner := bufio.NewScanner(conn)
	authed := s.provider == nil

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") {
			return
		}

		if !authed {
			user, pass, ok := strings.Cut(strings.TrimPrefix(line, "auth "), ":")
			if !strings.HasPrefix(line, "auth ") || !ok ||
				s.provider.Authenticate(ctx, user, pass) != nil {
				fmt.Fprintf(conn, "ERR %s\n", plugins.ErrAuthFailed)
				return
			}
			authed = true
			fmt.Fprintln(conn, "OK")
			continue
		}

		rs, err := s.handler(ctx, line)
		if err != nil {
			fmt.Fprintf(conn, "ERR %s\n", err)
			continue
		}
		fmt.Fprintf(conn, "OK %d\n", len(rs.Rows))
		for _, row := range rs.Rows {
			fmt.Fprintln(conn, strings.Join(row, "\t"))
		}
	}
}

// negotiate applies the listener's TLS mode. Require always wraps; prefer
// sniffs the first byte and upgrades only for clients that start a TLS
// handshake; disable serves plaintext.
func (s *wireServer) negotiate(conn net.Conn) (net.Conn, error) {
	switch s.tlsOpt.Mode {
	case TLSModeRequire:
		tlsConn := tls.Server(conn, s.tlsConfig)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tlsConn, nil

	case TLSModePrefer:
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return nil, err
		}
		br := bufio.NewReader(conn)
		first, err := br.Peek(1)
		if err != nil {
			return nil, err
		}
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
		buffered := &bufferedConn{Conn: conn, r: br}
		if first[0] != tlsRecordTypeHandshake {
			return buffered, nil
		}
		tlsConn := tls.Server(buffered, s.tlsConfig)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tlsConn, nil

	default:
		return conn, nil
	}
}

// bufferedConn replays bytes peeked during TLS sniffing.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (s *wireServer) Shutdown(ctx context.Context) error {
	var err error
	s.closeOne.Do(func() {
		close(s.quit)
		if s.ln != nil {
			err = s.ln.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	})
	return err
}

// Addr returns the bound address, for tests that listen on port 0.
func (s *wireServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}
