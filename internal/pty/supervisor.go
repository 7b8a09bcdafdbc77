// Package pty owns the fleet of live PTY-backed child processes: creation
// with a sanitized environment, output fan-out, ring-buffered replay for
// reattach, input writes with a size cap, resize, exit capture, and
// destruction, using deferred PTY lifecycle management, two-phase
// SIGTERM/SIGKILL termination, and a ring-buffered output history.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forkline/core/internal/bus"
	"github.com/forkline/core/internal/logger"
	"github.com/forkline/core/internal/psm"
)

var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrLimitExceeded = errors.New("session limit exceeded")
	ErrNotFound      = errors.New("session not found")
	ErrNotRunning    = errors.New("session is not running")
	ErrPayloadTooLarge = errors.New("payload exceeds per-write cap")
)

const (
	defaultCols = 80
	defaultRows = 24
	minCols     = 20
	maxCols     = 1000
	minRows     = 10
	maxRows     = 1000

	spawnGraceWindow  = 150 * time.Millisecond
	terminateGrace    = 500 * time.Millisecond
)

// Session is one live (or recently exited) PTY child.
type Session struct {
	mu sync.Mutex

	taskID         string
	cwd            string
	cmd            *exec.Cmd
	handle         Handle
	buffer         *ringBuffer
	machine        *psm.Machine
	cols, rows     int
	pid            int
	createdAt      time.Time
	lastActivityAt time.Time
	running        bool
	exitCode       *int
	exitSignal     string
	env            map[string]string
	subscribers    map[string]struct{}

	waitDone  chan struct{}
	stopOnce  sync.Once
}

// Summary is the read-only view returned by ListSessions.
type Summary struct {
	TaskID         string          `json:"taskId"`
	Cwd            string          `json:"cwd"`
	Pid            int             `json:"pid"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	Running        bool            `json:"running"`
	ExitCode       *int            `json:"exitCode,omitempty"`
	ExitSignal     string          `json:"exitSignal,omitempty"`
	Cols           int             `json:"cols"`
	Rows           int             `json:"rows"`
	ModeState      psm.ModeState   `json:"modeState"`
	TailPreview    []string        `json:"tailPreview"`
}

// CreateResult is the result of Create.
type CreateResult struct {
	Created bool `json:"created"`
	Running bool `json:"running"`
}

// AttachResult is the result of Attach.
type AttachResult struct {
	OutputBuffer []byte        `json:"-"`
	StartOffset  int64         `json:"startOffset"`
	EndOffset    int64         `json:"endOffset"`
	ModeState    psm.ModeState `json:"modeState"`
}

// Supervisor owns every live session, keyed by taskId.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	bus    bus.Bus
	logger *logger.Logger

	maxSessions   int
	maxWriteBytes int
	ringMaxBytes  int64
}

// NewSupervisor creates a Supervisor. Limits fall back to sensible defaults
// when given as zero.
func NewSupervisor(b bus.Bus, log *logger.Logger, maxSessions, maxWriteBytes int, ringMaxBytes int64) *Supervisor {
	if maxSessions <= 0 {
		maxSessions = 256
	}
	if maxWriteBytes <= 0 {
		maxWriteBytes = 64_000
	}
	if ringMaxBytes <= 0 {
		ringMaxBytes = defaultRingMaxBytes
	}
	return &Supervisor{
		sessions:      make(map[string]*Session),
		bus:           b,
		logger:        log.WithFields(zap.String("component", "pty-supervisor")),
		maxSessions:   maxSessions,
		maxWriteBytes: maxWriteBytes,
		ringMaxBytes:  ringMaxBytes,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Create spawns a new PTY-backed child for taskID. Fails with
// ErrAlreadyExists if a live session already owns taskID, ErrLimitExceeded
// at the session cap.
func (s *Supervisor) Create(taskID, cwd string, envOverrides map[string]string, cols, rows int) (*CreateResult, error) {
	s.mu.Lock()
	if existing, ok := s.sessions[taskID]; ok && existing.isRunning() {
		s.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	if len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return nil, ErrLimitExceeded
	}
	s.mu.Unlock()

	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	cols = clamp(cols, minCols, maxCols)
	rows = clamp(rows, minRows, maxRows)

	env, _, err := buildChildEnv(taskID, envOverrides)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate session port: %w", err)
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = env

	sess := &Session{
		taskID:         taskID,
		cwd:            cwd,
		cmd:            cmd,
		buffer:         newRingBuffer(s.ringMaxBytes),
		machine:        psm.New(),
		cols:           cols,
		rows:           rows,
		createdAt:      time.Now().UTC(),
		lastActivityAt: time.Now().UTC(),
		env:            envOverrides,
		subscribers:    make(map[string]struct{}),
		waitDone:       make(chan struct{}),
	}

	handle, spawnErr := startWithSize(cmd, cols, rows)
	if spawnErr != nil {
		s.logger.Error("pty spawn failed", zap.String("task_id", taskID), zap.Error(spawnErr))
		close(sess.waitDone)
		s.storeSession(taskID, sess)
		s.publish(taskID, "pty.exit", map[string]interface{}{"exitCode": -1, "reason": spawnErr.Error()})
		return &CreateResult{Created: true, Running: false}, nil
	}

	sess.handle = handle
	sess.running = true
	if cmd.Process != nil {
		sess.pid = cmd.Process.Pid
	}
	s.storeSession(taskID, sess)

	go s.readLoop(sess)
	go s.waitLoop(sess)

	s.publish(taskID, "pty.started", map[string]interface{}{"pid": sess.pid, "cols": cols, "rows": rows})

	// Give the child a short grace window to fail fast (e.g. command not
	// found) so Create can report running:false synchronously.
	select {
	case <-sess.waitDone:
		sess.mu.Lock()
		running := sess.running
		sess.mu.Unlock()
		return &CreateResult{Created: true, Running: running}, nil
	case <-time.After(spawnGraceWindow):
		return &CreateResult{Created: true, Running: true}, nil
	}
}

func (s *Supervisor) storeSession(taskID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[taskID] = sess
}

func (sess *Session) isRunning() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.running
}

func (s *Supervisor) get(taskID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[taskID]
	return sess, ok
}

// Attach registers subscriberID and returns the full ring buffer snapshot
// plus the current ModeState. Subsequent output arrives via bus events.
func (s *Supervisor) Attach(taskID, subscriberID string) (*AttachResult, error) {
	sess, ok := s.get(taskID)
	if !ok {
		return nil, ErrNotFound
	}
	sess.mu.Lock()
	sess.subscribers[subscriberID] = struct{}{}
	sess.mu.Unlock()

	data, start, end := sess.buffer.snapshot()
	return &AttachResult{
		OutputBuffer: data,
		StartOffset:  start,
		EndOffset:    end,
		ModeState:    sess.machine.State(),
	}, nil
}

// Detach is idempotent: detaching an unknown subscriber or session is not
// an error.
func (s *Supervisor) Detach(taskID, subscriberID string) error {
	sess, ok := s.get(taskID)
	if !ok {
		return nil
	}
	sess.mu.Lock()
	delete(sess.subscribers, subscriberID)
	sess.mu.Unlock()
	return nil
}

// Write sends data to the child's stdin. Rejects the entire payload without
// writing any bytes if it exceeds the per-write cap.
func (s *Supervisor) Write(taskID string, data []byte) error {
	sess, ok := s.get(taskID)
	if !ok {
		return ErrNotFound
	}
	if len(data) > s.maxWriteBytes {
		return ErrPayloadTooLarge
	}

	sess.mu.Lock()
	if !sess.running {
		sess.mu.Unlock()
		return ErrNotRunning
	}
	handle := sess.handle
	sess.mu.Unlock()

	if _, err := handle.Write(data); err != nil {
		return err
	}

	state := sess.machine.ConsumeInput(data)
	sess.mu.Lock()
	sess.lastActivityAt = time.Now().UTC()
	sess.mu.Unlock()

	s.publish(taskID, "pty.activity", map[string]interface{}{"direction": "input", "bytes": len(data)})
	s.publish(taskID, "pty.mode", modeStatePayload(state))
	return nil
}

// Resize changes the PTY geometry, clamping to sane terminal size bounds.
func (s *Supervisor) Resize(taskID string, cols, rows int) error {
	sess, ok := s.get(taskID)
	if !ok {
		return ErrNotFound
	}
	cols = clamp(cols, minCols, maxCols)
	rows = clamp(rows, minRows, maxRows)

	sess.mu.Lock()
	if !sess.running {
		sess.mu.Unlock()
		return ErrNotRunning
	}
	handle := sess.handle
	sess.mu.Unlock()

	if err := handle.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}

	sess.mu.Lock()
	sess.cols, sess.rows = cols, rows
	sess.mu.Unlock()
	return nil
}

// Destroy terminates the session: SIGTERM, then SIGKILL after a grace
// period if it hasn't exited. Removing an already-gone session is a no-op.
func (s *Supervisor) Destroy(taskID string) error {
	sess, ok := s.get(taskID)
	if !ok {
		return nil
	}

	sess.mu.Lock()
	cmd := sess.cmd
	sess.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = terminateProcess(cmd.Process)
		select {
		case <-sess.waitDone:
		case <-time.After(terminateGrace):
			_ = killProcess(cmd.Process)
			<-sess.waitDone
		}
	}

	s.mu.Lock()
	delete(s.sessions, taskID)
	s.mu.Unlock()

	s.publish(taskID, "pty.destroyed", map[string]interface{}{})
	return nil
}

// ListSessions returns a snapshot of every tracked session.
func (s *Supervisor) ListSessions() []Summary {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	summaries := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sess.summary())
	}
	return summaries
}

func (sess *Session) summary() Summary {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	data, _, _ := sess.buffer.snapshot()
	return Summary{
		TaskID:         sess.taskID,
		Cwd:            sess.cwd,
		Pid:            sess.pid,
		CreatedAt:      sess.createdAt,
		LastActivityAt: sess.lastActivityAt,
		Running:        sess.running,
		ExitCode:       sess.exitCode,
		ExitSignal:     sess.exitSignal,
		Cols:           sess.cols,
		Rows:           sess.rows,
		ModeState:      sess.machine.State(),
		TailPreview:    tailPreview(data, 3),
	}
}

// tailPreview returns the last n non-empty normalized lines of data.
func tailPreview(data []byte, n int) []string {
	normalized := psm.Normalize(data)
	var lines []string
	for _, line := range strings.Split(normalized, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (s *Supervisor) readLoop(sess *Session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.handle.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			offset := sess.buffer.append(chunk)
			state := sess.machine.ConsumeOutput(chunk)

			sess.mu.Lock()
			sess.lastActivityAt = time.Now().UTC()
			sess.mu.Unlock()

			s.publish(sess.taskID, "pty.data", map[string]interface{}{"offset": offset, "data": string(chunk)})
			s.publish(sess.taskID, "pty.activity", map[string]interface{}{"direction": "output", "bytes": n})
			s.publish(sess.taskID, "pty.mode", modeStatePayload(state))
			if state.IsBlocked {
				s.publish(sess.taskID, "pty.blocked", map[string]interface{}{
					"blockedReason": state.BlockedReason,
				})
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) waitLoop(sess *Session) {
	defer sess.stopOnce.Do(func() { close(sess.waitDone) })

	exitCode, signalName, _ := waitProcess(sess.cmd)

	sess.mu.Lock()
	sess.running = false
	sess.exitCode = &exitCode
	sess.exitSignal = signalName
	if sess.handle != nil {
		_ = sess.handle.Close()
	}
	sess.mu.Unlock()

	state := sess.machine.ConsumeExit(exitCode, signalName)
	s.publish(sess.taskID, "pty.mode", modeStatePayload(state))
	s.publish(sess.taskID, "pty.exit", map[string]interface{}{
		"exitCode": exitCode,
		"signal":   signalName,
	})
}

func (s *Supervisor) publish(taskID, eventType string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, bus.NewEvent(eventType, taskID, payload))
}

func modeStatePayload(state psm.ModeState) map[string]interface{} {
	return map[string]interface{}{
		"mode":          string(state.Mode),
		"confidence":    string(state.Confidence),
		"isBlocked":     state.IsBlocked,
		"blockedReason": state.BlockedReason,
		"provider":      state.Provider,
		"modeSeq":       state.ModeSeq,
		"altScreen":     state.AltScreen,
	}
}
