package broker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// LocalConnector spawns a shell on the broker host itself, backed by a local
// PTY. Auth fields in the config are ignored; access control happens at the
// WebSocket route.
type LocalConnector struct {
	// Shell overrides the spawned program. Empty means bash.
	Shell string
}

// Connect starts the shell under a fresh PTY.
func (c *LocalConnector) Connect(_ context.Context, cfg ConnectorConfig) (Session, error) {
	shell := c.Shell
	if shell == "" {
		shell = "bash"
	}

	var cmd *exec.Cmd
	if cfg.ExecuteCommand != "" {
		cmd = exec.Command(shell, "-c", cfg.ExecuteCommand)
	} else {
		cmd = exec.Command(shell)
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if cfg.InitialPath != "" {
		cmd.Dir = cfg.InitialPath
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("local: start pty: %w", err)
	}

	return &localSession{cmd: cmd, ptmx: ptmx}, nil
}

// localSession wraps the subprocess and its PTY master.
type localSession struct {
	cmd  *exec.Cmd
	ptmx *os.File
	mu   sync.Mutex
}

func (s *localSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptmx.Write(p)
}

func (s *localSession) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

func (s *localSession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Close terminates the session and its subprocess.
func (s *localSession) Close() error {
	// Kill the subprocess to avoid orphaned processes
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	// Wait for the process to release resources
	_ = s.cmd.Wait()
	return err
}

// ensure interface compliance
var _ Session = (*localSession)(nil)
var _ Connector = (*LocalConnector)(nil)
