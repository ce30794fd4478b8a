package executor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/microq/uworker/pkg/platform"
)

const (
	// DefaultKillAfter is how many seconds after SIGTERM the watchdog
	// escalates to SIGKILL.
	DefaultKillAfter = 5

	// DefaultCallbackInterval throttles intermediate output callbacks.
	DefaultCallbackInterval = 60 * time.Second

	// timestampFormat frames output records, UTC.
	timestampFormat = "2006-01-02T15:04:05.000000"

	// maxLineSize bounds a single child output line.
	maxLineSize = 1024 * 1024
)

// Exit codes produced by the timeout watchdog: 124 when the command was
// terminated, 128+9 when it had to be killed.
const (
	exitTimeout = 124
	exitKilled  = 128 + 9
)

// ErrInvalidTimeout is returned for negative timeouts.
var ErrInvalidTimeout = errors.New("timeout must be a non-negative number of seconds")

// OutputFunc receives a snapshot of the accumulated output buffer.
type OutputFunc func(output string)

// Executor runs a child process built from a fixed base command plus
// per-job arguments, pumping both output streams into a shared,
// timestamped buffer that is periodically flushed to a callback.
type Executor struct {
	// Name is the display name used in log events and framing records.
	Name string

	// KillAfter is the SIGTERM-to-SIGKILL escalation delay in seconds.
	KillAfter int

	// CallbackInterval throttles intermediate callback invocations.
	CallbackInterval time.Duration

	// InContainer reports whether the agent itself runs inside a
	// container; injectable for tests.
	InContainer func() bool

	cmd    []string
	logger zerolog.Logger
}

// New creates an executor for a tokenized base command.
func New(name string, cmd []string, logger zerolog.Logger) *Executor {
	return &Executor{
		Name:             name,
		KillAfter:        DefaultKillAfter,
		CallbackInterval: DefaultCallbackInterval,
		InContainer:      platform.InContainer,
		cmd:              cmd,
		logger:           logger.With().Str("process", name).Logger(),
	}
}

// NewFromString creates an executor for a command given as a single
// whitespace-separated string.
func NewFromString(name, cmd string, logger zerolog.Logger) *Executor {
	return New(name, strings.Fields(cmd), logger)
}

// Execute runs the base command with the given arguments appended,
// streaming timestamped output to callback. timeoutSeconds bounds the
// wall clock; zero disables the bound, negative values are rejected.
// It returns the child's exit code and the elapsed wall-clock time.
func (e *Executor) Execute(args []string, callback OutputFunc, timeoutSeconds int) (int, time.Duration, error) {
	if timeoutSeconds < 0 {
		return 0, 0, fmt.Errorf("%w, got %d", ErrInvalidTimeout, timeoutSeconds)
	}

	argv := append(append([]string{}, e.cmd...), args...)
	if timeoutSeconds > 0 {
		// The watchdog wrapper yields exit code 124 on SIGTERM and
		// 137 when the SIGKILL escalation fired.
		argv = append([]string{
			"timeout",
			fmt.Sprintf("--kill-after=%d", e.KillAfter),
			strconv.Itoa(timeoutSeconds),
		}, argv...)
	}

	logger := e.logger.With().Str("exec_id", uuid.NewString()[:8]).Logger()

	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return 0, 0, fmt.Errorf("failed to start %s process: %w", e.Name, err)
	}
	logger.Info().Int("pid", cmd.Process.Pid).Strs("cmd", argv).
		Msgf("%s process started", e.Name)

	buf := &outputBuffer{
		interval: e.CallbackInterval,
		callback: callback,
		// Let the first flush happen on the first line rather than
		// a full interval in.
		lastEmit: start.Add(-e.CallbackInterval),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go e.pump("stdout", stdout, buf, logger, &wg)
	go e.pump("stderr", stderr, buf, logger, &wg)
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, time.Since(start), fmt.Errorf("failed waiting for %s process: %w", e.Name, err)
		}
		exitCode = exitErr.ExitCode()
		if exitCode == -1 {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exitCode = 128 + int(ws.Signal())
			}
		}
	}
	elapsed := time.Since(start)

	if e.InContainer != nil && e.InContainer() {
		e.reapChildren(cmd.Process.Pid, logger)
	}

	killed := exitCode == exitTimeout || exitCode == exitKilled
	if timeoutSeconds > 0 && killed {
		msg := fmt.Sprintf("Killed %s process after timeout of %d seconds", e.Name, timeoutSeconds)
		buf.writeRecord("executor", msg)
		logger.Warn().Msg(msg)
	}

	msg := fmt.Sprintf("%s process exited with code %d", e.Name, exitCode)
	buf.writeRecord("executor", msg)
	buf.flushFinal()
	if exitCode != 0 {
		logger.Warn().Msg(msg)
	} else {
		logger.Info().Msg(msg)
	}
	return exitCode, elapsed, nil
}

// pump reads one child stream line by line until EOF, appending framed
// records to the shared buffer and echoing non-blank lines to the log.
func (e *Executor) pump(stream string, r io.Reader, buf *outputBuffer, logger zerolog.Logger, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		buf.writeThrottled(stream, line)
		if strings.TrimSpace(line) != "" {
			logger.Info().Str("stream", stream).Msgf("%s process %s: %s", e.Name, stream, strings.TrimSpace(line))
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Str("stream", stream).Msg("could not drain command stream")
	}
}

// reapChildren collects orphaned descendants after the child exits.
// Inside a container this process is pid 1 and nothing else will reap
// them. Iterates until the original child's pid is seen; ECHILD/ESRCH
// end the loop.
func (e *Executor) reapChildren(pid int, logger zerolog.Logger) {
	for {
		var ws unix.WaitStatus
		reaped, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if errors.Is(err, unix.ECHILD) || errors.Is(err, unix.ESRCH) {
				return
			}
			logger.Warn().Err(err).Msg("failed reaping child processes")
			return
		}
		logger.Info().Int("pid", reaped).Int("status", ws.ExitStatus()).Msg("reaped child")
		if reaped == pid {
			return
		}
	}
}

// outputBuffer accumulates framed output records from both stream pumps
// behind one mutex, so interleaved writes stay line-atomic and callback
// snapshots are prefix-consistent. Intermediate callbacks are throttled
// and deduplicated against the last delivered snapshot.
type outputBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	interval time.Duration
	callback OutputFunc
	lastEmit time.Time
	lastSent string
}

// writeThrottled appends one framed record and delivers a snapshot to
// the callback when the throttle interval has elapsed and the snapshot
// changed.
func (b *outputBuffer) writeThrottled(stream, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.write(stream, line)
	if time.Since(b.lastEmit) < b.interval {
		return
	}
	snapshot := b.buf.String()
	if snapshot == b.lastSent {
		return
	}
	b.callback(snapshot)
	b.lastSent = snapshot
	b.lastEmit = time.Now()
}

// writeRecord appends one framed record without a callback.
func (b *outputBuffer) writeRecord(stream, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.write(stream, line)
}

// flushFinal delivers the complete buffer, bypassing the throttle.
func (b *outputBuffer) flushFinal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback(b.buf.String())
	b.lastSent = b.buf.String()
	b.lastEmit = time.Now()
}

func (b *outputBuffer) write(stream, line string) {
	fmt.Fprintf(&b.buf, "%s - %s: %s\n",
		time.Now().UTC().Format(timestampFormat), strings.ToUpper(stream), line)
}
