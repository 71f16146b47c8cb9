package device

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/astrosched/astrosched/internal/config"
)

// IndiServer manages an external INDI server process that real device
// drivers connect through. The simulated drivers don't need it; rigs with
// hardware set indi.autostart and list their driver binaries in indi.args.
type IndiServer struct {
	cfg config.IndiConfig
	pm  *ProcessManager
	log zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewIndiServer creates a launcher for the configured INDI server.
func NewIndiServer(cfg config.IndiConfig, pm *ProcessManager, log zerolog.Logger) *IndiServer {
	return &IndiServer{
		cfg: cfg,
		pm:  pm,
		log: log,
	}
}

// Start launches the server process and blocks until it accepts TCP
// connections or the ready window elapses.
func (s *IndiServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return fmt.Errorf("indi server already running")
	}

	command := s.cfg.Command
	if command == "" {
		command = "indiserver"
	}

	cmd := newCommand(ctx, command, s.cfg.Args...)
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting %s: %w", command, err)
	}
	s.pm.Track(cmd)
	s.cmd = cmd
	s.mu.Unlock()

	s.log.Info().Str("command", command).Strs("args", s.cfg.Args).Msg("indi server started")

	// Reap the process when it exits so it doesn't linger as a zombie
	go func() {
		_ = cmd.Wait()
		s.pm.Untrack(cmd)
	}()

	return s.waitReady(ctx)
}

// waitReady polls the server port until it accepts a connection.
func (s *IndiServer) waitReady(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = 7624
	}
	window := time.Duration(s.cfg.ReadySeconds) * time.Second
	if window <= 0 {
		window = 10 * time.Second
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			s.log.Info().Str("addr", addr).Msg("indi server ready")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("indi server did not accept connections on %s within %s", addr, window)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop terminates the server process group. Safe to call when the server
// never started.
func (s *IndiServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	err := killProcessGroup(s.cmd)
	s.cmd = nil
	return err
}
