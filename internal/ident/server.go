// ABOUTME: Port-to-username map for bridged connections and the RFC 1413 responder serving it.

package ident

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	queryTimeout = 10 * time.Second
	maxQueryLen  = 1000
	osName       = "UNIX"
)

// Mapper records which username owns a local TCP port. It implements
// bridged.IdentMapper.
type Mapper struct {
	mu    sync.RWMutex
	ports map[int]string
}

// NewMapper creates an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{ports: make(map[int]string)}
}

// SetMapping assigns port to username, replacing any previous owner.
func (m *Mapper) SetMapping(username string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ports[port] = username
}

// Lookup returns the username that owns port.
func (m *Mapper) Lookup(port int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	username, ok := m.ports[port]
	return username, ok
}

// Len returns the number of mapped ports.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ports)
}

// Server answers ident queries from a Mapper.
type Server struct {
	mapper *Mapper
	logger *slog.Logger
}

// NewServer creates a responder backed by mapper.
func NewServer(mapper *Mapper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mapper: mapper, logger: logger.With("component", "identd")}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for ident on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("identd listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting ident connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(queryTimeout))

	reader := bufio.NewReaderSize(conn, maxQueryLen)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		s.logger.Debug("failed to read ident query", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	reply := s.Answer(line)
	s.logger.Debug("answered ident query", "query", strings.TrimSpace(line), "reply", reply)
	if _, err := fmt.Fprintf(conn, "%s\r\n", reply); err != nil {
		s.logger.Debug("failed to write ident reply", "error", err)
	}
}

// Answer builds the reply line for one query of the form
// "<local port> , <remote port>".
func (s *Server) Answer(query string) string {
	local, remote, ok := parseQuery(query)
	if !ok {
		return fmt.Sprintf("%s : ERROR : INVALID-PORT", strings.TrimSpace(query))
	}

	ports := strconv.Itoa(local) + ", " + strconv.Itoa(remote)
	username, found := s.mapper.Lookup(local)
	if !found {
		return ports + " : ERROR : NO-USER"
	}
	return fmt.Sprintf("%s : USERID : %s : %s", ports, osName, username)
}

func parseQuery(query string) (local, remote int, ok bool) {
	parts := strings.Split(strings.TrimSpace(query), ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	local, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || local < 1 || local > 65535 {
		return 0, 0, false
	}
	remote, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || remote < 1 || remote > 65535 {
		return 0, 0, false
	}
	return local, remote, true
}
