package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/rovercam/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, libcamera, etc.)
type LogParser func(line string) (level, msg string)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("process already started")

// Process manages the lifecycle of one subprocess.
type Process struct {
	id              string
	command         string
	cmd             *exec.Cmd
	logger          logging.Logger
	processLogger   logging.Logger // logger for process output (nil = use logger)
	logParser       LogParser      // parses stderr for log level (nil = no parsing)
	gracefulTimeout time.Duration  // timeout for graceful shutdown before force kill
	killTimeout     time.Duration  // timeout after Kill() before giving up

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error
	stdout    *io.PipeReader
	done      chan struct{}
	stopOnce  sync.Once
}

// NewProcess creates a process that has not been started yet.
func NewProcess(id, command string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		state:           StateIdle,
		done:            make(chan struct{}),
		gracefulTimeout: 3 * time.Second,
		killTimeout:     3 * time.Second,
	}
}

// Command returns the command line.
func (p *Process) Command() string {
	return p.command
}

// SetLogParser sets a custom logger and log parser for stderr output.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// Start launches the subprocess and returns its stdout. Stderr is logged
// line by line. The returned reader reports io.EOF once the process exits.
func (p *Process) Start() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return nil, ErrAlreadyStarted
	}

	args, err := parseCommand(p.command)
	if err != nil {
		return nil, p.failLocked(err)
	}
	if len(args) == 0 {
		return nil, p.failLocked(errors.New("empty command"))
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.SysProcAttr = sysProcAttr()
	p.cmd.Stdout = stdoutW
	p.cmd.Stderr = stderrW
	// Grandchildren holding the pipes open must not block Wait forever.
	p.cmd.WaitDelay = p.killTimeout

	if err := p.cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		p.logger.Error("Failed to start process", "id", p.id, "error", err, "command", p.command)
		return nil, p.failLocked(err)
	}

	p.state = StateRunning
	p.startedAt = time.Now()
	p.stdout = stdoutR
	p.logger.Info("Process started", "id", p.id, "pid", p.cmd.Process.Pid, "command", p.command)

	stderrDone := make(chan struct{})
	go func() {
		p.streamOutput(stderrR)
		close(stderrDone)
	}()

	go func() {
		waitErr := p.cmd.Wait()
		stdoutW.CloseWithError(io.EOF)
		stderrW.Close()
		<-stderrDone

		code := exitCodeFromError(waitErr)
		p.mu.Lock()
		p.exitCode = code
		p.state = StateExited
		if waitErr != nil {
			p.lastErr = waitErr
		}
		p.mu.Unlock()

		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		close(p.done)
	}()

	return stdoutR, nil
}

func (p *Process) failLocked(err error) error {
	p.state = StateError
	p.lastErr = err
	p.exitCode = 1
	close(p.done)
	return fmt.Errorf("process %s: %w", p.id, err)
}

// Done is closed once the process has exited or failed to start.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or 0 while the process is still running.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// Stop asks the process to exit with SIGINT and kills it if it has not
// exited within the grace period. It returns the exit code and is safe to
// call more than once, before Start, or after the process has exited.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		state := p.state
		if state == StateIdle {
			p.state = StateExited
			close(p.done)
		}
		if state == StateRunning {
			p.state = StateStopping
		}
		stdout := p.stdout
		p.mu.Unlock()

		if state != StateRunning {
			return
		}

		// Unblock the stdout copier in case nobody is reading anymore.
		stdout.Close()
		p.sendStopSignal()
		p.waitForExit(p.gracefulTimeout)
	})

	<-p.done
	return p.ExitCode()
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.logger.Debug("Sending SIGINT to process", "id", p.id, "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

// waitForExit waits for the process to exit, force-killing it after timeout.
func (p *Process) waitForExit(timeout time.Duration) {
	select {
	case <-p.done:
		return
	case <-time.After(timeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Terminated by a signal.
		return 137
	}
	return 1
}

// streamOutput logs each stderr line at the level chosen by the log parser.
func (p *Process) streamOutput(reader io.Reader) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "verbose", "debug", "trace":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading stderr", "id", p.id, "error", err)
		_, _ = io.Copy(io.Discard, reader)
	}
}

// parseCommand parses a command string into arguments.
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
