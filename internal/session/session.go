// Package session owns one PTY-attached child process end to end: its
// lifecycle (start/stop), its output sanitization and line buffering, and
// the sentinel-based command-completion protocol layered on top of it.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ianremillard/ptybridge/internal/ptyerr"
	"github.com/ianremillard/ptybridge/internal/sanitize"
)

// State is a point in the session lifecycle: Starting -> Running ->
// Stopping -> Stopped. Stopped is terminal.
type State int

const (
	Starting State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config is an immutable description of how to launch and interact with a
// session. The sentinel template is not part of it: it is held on the
// Session itself, where SetSentinel may change it while the session runs.
type Config struct {
	Command     string
	Args        []string
	Cwd         string
	IdleTimeout time.Duration
	BufferSize  int
}

// Info is a point-in-time snapshot of a session, safe to hand to a caller
// without holding any lock.
type Info struct {
	ID           string
	Command      string
	Cwd          string
	CreatedAt    time.Time
	LastActivity time.Time
	IsAlive      bool
}

// Session owns one child process attached to a master PTY fd, its reader
// goroutine, its line buffer, its optional log sink, and the sentinel
// command protocol.
type Session struct {
	ID        string
	cfg       Config
	CreatedAt time.Time
	logger    *zap.Logger

	mu               sync.Mutex
	state            State
	masterFD         *os.File
	childPID         int
	cmd              *exec.Cmd
	buf              *lineBuffer
	partial          string
	lastActivity     time.Time
	logSink          *logSink
	sentinelTemplate string

	stopOnce   sync.Once
	stopCh     chan struct{}
	readerDone chan struct{}

	runLock chan struct{}
	logPath string
}

// New constructs a Session in the Starting state. Call Start to fork the
// child and begin draining its output. logPath may be empty to disable
// per-session logging.
func New(id string, cfg Config, logPath string, logger *zap.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:               id,
		cfg:              cfg,
		CreatedAt:        now,
		logger:           logger,
		state:            Starting,
		buf:              newLineBuffer(cfg.BufferSize),
		lastActivity:     now,
		sentinelTemplate: "echo {sentinel}",
		stopCh:           make(chan struct{}),
		runLock:          make(chan struct{}, 1),
		logPath:          logPath,
	}
}

// Start forks the child attached to a new PTY, transitions Starting ->
// Running, and spawns the reader goroutine. It fails with a SpawnError if
// the child cannot be started.
func (s *Session) Start() error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Cwd
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, defaultWinsize())
	if err != nil {
		return ptyerr.New(ptyerr.Spawn, "start", fmt.Errorf("spawn %s: %w", s.cfg.Command, err))
	}

	s.mu.Lock()
	s.masterFD = ptmx
	s.cmd = cmd
	s.childPID = cmd.Process.Pid
	s.state = Running
	s.lastActivity = time.Now()
	logPath := s.logPath
	s.mu.Unlock()

	if logPath != "" {
		sink, err := newLogSink(logPath)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("cannot open session log sink",
					zap.String("session", s.ID), zap.Error(err))
			}
		} else {
			s.mu.Lock()
			s.logSink = sink
			s.mu.Unlock()
		}
	}

	s.readerDone = make(chan struct{})
	go s.readerLoop()

	return nil
}

func defaultWinsize() *pty.Winsize {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 0 && rows > 0 {
			return &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
		}
	}
	return &pty.Winsize{Rows: 24, Cols: 80}
}

// readerLoop drains the master fd while Running. It polls with a short
// read deadline so it can observe stopCh promptly; a timeout means "would
// block", any other error (including io.EOF) ends the loop.
func (s *Session) readerLoop() {
	defer close(s.readerDone)
	buf := make([]byte, 4096)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		fd := s.masterFD
		s.mu.Unlock()
		if fd == nil {
			return
		}

		_ = fd.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := fd.Read(buf)
		if n > 0 {
			s.ingest(sanitize.Clean(buf[:n]))
		}
		if err != nil {
			if isTimeout(err) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// ingest appends a sanitized chunk to the partial accumulator and moves
// every newline-terminated prefix into the line buffer (and log sink).
func (s *Session) ingest(chunk string) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial += chunk
	for {
		idx := strings.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		line := s.partial[:idx]
		s.partial = s.partial[idx+1:]
		s.buf.append(line)
		if s.logSink != nil {
			s.logSink.writeLine(line)
		}
	}
	s.lastActivity = time.Now()
}

// SendKeys writes raw bytes to the master fd without interpreting escape
// strings; callers decode textual escapes at their own boundary.
func (s *Session) SendKeys(data []byte) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ptyerr.New(ptyerr.IO, "send_keys", fmt.Errorf("session %s is not running", s.ID))
	}
	fd := s.masterFD
	s.mu.Unlock()

	if fd == nil {
		return ptyerr.New(ptyerr.IO, "send_keys", fmt.Errorf("session %s has no active pty", s.ID))
	}
	if _, err := fd.Write(data); err != nil {
		return ptyerr.New(ptyerr.IO, "send_keys", fmt.Errorf("write to session %s: %w", s.ID, err))
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// RunCommand writes cmd followed by a sentinel-echoing command, then polls
// the buffer for the sentinel's appearance. It returns the command's
// sanitized output and whether it completed before timeout. At most one
// RunCommand may be in flight per session; an overlapping call fails fast
// with a BusyError.
func (s *Session) RunCommand(cmd string, timeout time.Duration) (string, bool, error) {
	select {
	case s.runLock <- struct{}{}:
	default:
		return "", false, ptyerr.New(ptyerr.Busy, "run_command", fmt.Errorf("session %s already has a command in flight", s.ID))
	}
	defer func() { <-s.runLock }()

	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return "", false, ptyerr.New(ptyerr.IO, "run_command", fmt.Errorf("session %s is not running", s.ID))
	}
	template := s.sentinelTemplate
	base := s.buf.Total()
	s.mu.Unlock()

	sentinel := newSentinel()
	sentinelCmd := strings.ReplaceAll(template, "{sentinel}", sentinel)
	sentinelCmdStripped := strings.TrimSpace(sentinelCmd)

	payload := cmd + "\n" + sentinelCmd + "\n"
	if err := s.SendKeys([]byte(payload)); err != nil {
		return "", false, err
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		newLines := s.buf.from(base)
		s.mu.Unlock()

		if idx := findSentinelLine(newLines, sentinel, sentinelCmdStripped); idx >= 0 {
			output := filterEchoes(newLines[:idx], cmd, sentinelCmd)
			return strings.Join(output, "\n"), true, nil
		}

		if time.Now().After(deadline) {
			return strings.Join(newLines, "\n"), false, nil
		}

		select {
		case <-ticker.C:
		case <-s.stopCh:
			return strings.Join(newLines, "\n"), false, nil
		}
	}
}

// GetBuffer returns the buffer contents joined by \n: the last n lines if
// n is non-nil, or the whole buffer otherwise. It is a pure read and does
// not affect activity.
func (s *Session) GetBuffer(n *int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		return strings.Join(s.buf.snapshot(), "\n")
	}
	return strings.Join(s.buf.tail(*n), "\n")
}

// SetSentinel changes the sentinel command template for future
// RunCommand calls. It never affects an in-flight command.
func (s *Session) SetSentinel(template string) error {
	if !strings.Contains(template, "{sentinel}") {
		return ptyerr.New(ptyerr.Config, "set_sentinel", fmt.Errorf("sentinel template must contain {sentinel}"))
	}
	s.mu.Lock()
	s.sentinelTemplate = template
	s.mu.Unlock()
	return nil
}

// Stop cancels the reader, closes the log sink and master fd, sends
// SIGTERM then (after a grace period) SIGKILL to the child's process
// group, and reaps it. Stop is idempotent.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = Stopping
		s.mu.Unlock()

		close(s.stopCh)
		if s.readerDone != nil {
			<-s.readerDone
		}

		s.mu.Lock()
		sink := s.logSink
		fd := s.masterFD
		pid := s.childPID
		cmd := s.cmd
		s.logSink = nil
		s.masterFD = nil
		s.mu.Unlock()

		if sink != nil {
			_ = sink.Close()
		}
		if fd != nil {
			_ = fd.Close()
		}
		if pid > 0 {
			killProcessGroup(pid, cmd)
		}

		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
	})
	return nil
}

// killProcessGroup sends SIGTERM to pid's process group, waits briefly,
// then escalates to SIGKILL if the child hasn't exited, finally reaping it
// with Wait.
func killProcessGroup(pid int, cmd *exec.Cmd) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	waitDone := make(chan struct{})
	go func() {
		if cmd != nil {
			_ = cmd.Wait()
		}
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(100 * time.Millisecond):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitDone
	}
}

// IsAlive reports whether the child pid is still signalable.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	pid := s.childPID
	state := s.state
	s.mu.Unlock()
	if state == Stopped || pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// LastActivity returns the timestamp of the most recent read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleTimeout returns the configured idle timeout for the reaper.
func (s *Session) IdleTimeout() time.Duration { return s.cfg.IdleTimeout }

// Info returns a point-in-time snapshot suitable for list_sessions.
func (s *Session) Info() Info {
	return Info{
		ID:           s.ID,
		Command:      s.cfg.Command,
		Cwd:          s.cfg.Cwd,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		IsAlive:      s.IsAlive(),
	}
}
