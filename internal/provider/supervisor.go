package provider

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// SpawnSpec describes an external backend process to launch. The argument
// vector is passed verbatim, never through a shell.
type SpawnSpec struct {
	Path     string   // resolved executable path
	Args     []string // argv, excluding the executable itself
	Dir      string   // working directory ("" = inherit)
	ExtraEnv []string // KEY=VALUE pairs appended to the inherited environment
	LogPath  string   // file for combined stdout/stderr ("" = discard)
}

// Supervisor owns a single spawned backend process: launch, handle tracking
// and guaranteed teardown. Readiness detection is HealthProbe's job.
type Supervisor struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	logFile *os.File
}

// NewSupervisor creates a supervisor logging through the given logger.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{logger: logger.With().Str("component", "supervisor").Logger()}
}

// Start launches the process described by spec in its own process group so
// that teardown reaches any workers the backend forks. Any previously
// supervised process is stopped first; two instances of the same backend must
// never race for the same port.
func (s *Supervisor) Start(spec SpawnSpec) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.ExtraEnv) > 0 {
		cmd.Env = append(os.Environ(), spec.ExtraEnv...)
	}
	cmd.SysProcAttr = sysProcAttr()

	var sink io.Writer = io.Discard
	var logFile *os.File
	if spec.LogPath != "" {
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", spec.LogPath).Msg("cannot open backend log, discarding output")
		} else {
			sink = f
			logFile = f
		}
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return fmt.Errorf("spawn %s: %w", spec.Path, err)
	}

	s.cmd = cmd
	s.logFile = logFile
	s.logger.Info().Str("path", spec.Path).Int("pid", cmd.Process.Pid).Msg("backend process started")

	// Reap the child when it exits on its own so Stop on a dead process
	// stays a no-op.
	go cmd.Wait()

	return nil
}

// Stop terminates the supervised process group. Safe to call when nothing is
// running or the process already exited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		if err := terminate(s.cmd); err != nil {
			s.logger.Debug().Err(err).Msg("terminate ignored (process already gone)")
		} else {
			s.logger.Info().Int("pid", s.cmd.Process.Pid).Msg("backend process stopped")
		}
	}
	s.cmd = nil

	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

// Running reports whether a process handle is currently held.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}
