package executor

import (
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func notInContainer() bool { return false }

// collector gathers callback snapshots behind a mutex, since pumps
// invoke the callback from their own goroutines.
type collector struct {
	mu    sync.Mutex
	calls []string
}

func (c *collector) callback(output string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, output)
}

func (c *collector) final(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		t.Fatal("callback was never invoked")
	}
	return c.calls[len(c.calls)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// TestOutputCompleteness verifies every child line reaches the final
// buffer, framed with timestamp and stream name.
func TestOutputCompleteness(t *testing.T) {
	e := New("Test", []string{"sh", "-c", "echo one; echo two 1>&2; echo three"}, zerolog.Nop())
	e.InContainer = notInContainer
	var out collector

	code, elapsed, err := e.Execute(nil, out.callback, 0)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if elapsed <= 0 {
		t.Errorf("elapsed = %v, want > 0", elapsed)
	}

	final := out.final(t)
	for _, want := range []string{
		" - STDOUT: one\n",
		" - STDERR: two\n",
		" - STDOUT: three\n",
		" - EXECUTOR: Test process exited with code 0\n",
	} {
		if !strings.Contains(final, want) {
			t.Errorf("final buffer missing %q:\n%s", want, final)
		}
	}
}

// TestRecordFormat verifies the timestamp framing of buffer records.
func TestRecordFormat(t *testing.T) {
	e := New("Test", []string{"echo", "hello"}, zerolog.Nop())
	e.InContainer = notInContainer
	var out collector

	if _, _, err := e.Execute(nil, out.callback, 0); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	recordRe := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6} - STDOUT: hello$`)
	for _, line := range strings.Split(out.final(t), "\n") {
		if recordRe.MatchString(line) {
			return
		}
	}
	t.Errorf("no record matched %v in:\n%s", recordRe, out.final(t))
}

// TestExitCodePassthrough verifies non-timeout exit codes are returned
// verbatim.
func TestExitCodePassthrough(t *testing.T) {
	e := New("Test", []string{"sh", "-c", "exit 3"}, zerolog.Nop())
	e.InContainer = notInContainer
	var out collector

	code, _, err := e.Execute(nil, out.callback, 0)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if !strings.Contains(out.final(t), "Test process exited with code 3") {
		t.Errorf("final buffer missing exit record:\n%s", out.final(t))
	}
}

// TestInvalidTimeout verifies negative timeouts are rejected without
// starting a process.
func TestInvalidTimeout(t *testing.T) {
	e := New("Test", []string{"echo"}, zerolog.Nop())
	e.InContainer = notInContainer

	_, _, err := e.Execute(nil, func(string) {}, -1)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("Execute() error = %v, want ErrInvalidTimeout", err)
	}
}

// TestTimeoutEscalation verifies a child outliving its timeout exits
// with the watchdog's code and the buffer records the kill.
func TestTimeoutEscalation(t *testing.T) {
	if _, err := exec.LookPath("timeout"); err != nil {
		t.Skip("timeout utility not available")
	}

	e := New("Test", []string{"sleep"}, zerolog.Nop())
	e.InContainer = notInContainer
	e.KillAfter = 1
	var out collector

	code, _, err := e.Execute([]string{"5"}, out.callback, 1)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if code != 124 && code != 137 {
		t.Errorf("exit code = %d, want 124 or 137", code)
	}
	if !strings.Contains(out.final(t), "Killed Test process after timeout of 1 seconds") {
		t.Errorf("final buffer missing kill record:\n%s", out.final(t))
	}
}

// TestCallbackThrottle verifies intermediate callbacks are throttled:
// with a long interval only the first line and the final flush emit.
func TestCallbackThrottle(t *testing.T) {
	e := New("Test", []string{"sh", "-c", "echo a; echo b; echo c"}, zerolog.Nop())
	e.InContainer = notInContainer
	e.CallbackInterval = time.Hour
	var out collector

	if _, _, err := e.Execute(nil, out.callback, 0); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got := out.count(); got != 2 {
		t.Errorf("callback count = %d, want 2 (first line + final flush)", got)
	}
	final := out.final(t)
	for _, want := range []string{"STDOUT: a", "STDOUT: b", "STDOUT: c"} {
		if !strings.Contains(final, want) {
			t.Errorf("final buffer missing %q", want)
		}
	}
}

// TestOutputBuffer exercises the shared buffer directly: throttled
// writes deliver prefix-consistent snapshots and the final flush always
// delivers the complete buffer.
func TestOutputBuffer(t *testing.T) {
	var calls []string
	buf := &outputBuffer{
		interval: 0,
		callback: func(s string) { calls = append(calls, s) },
	}

	buf.writeThrottled("stdout", "first")
	buf.writeRecord("executor", "exited")
	buf.flushFinal()

	if len(calls) != 2 {
		t.Fatalf("callback count = %d, want 2", len(calls))
	}
	if !strings.HasPrefix(calls[1], calls[0]) {
		t.Errorf("later snapshot is not an extension of the earlier one:\n%q\n%q", calls[0], calls[1])
	}
	if !strings.Contains(calls[1], "EXECUTOR: exited") {
		t.Errorf("final snapshot missing executor record: %q", calls[1])
	}
}

// TestNewFromString verifies whitespace tokenization of the base
// command.
func TestNewFromString(t *testing.T) {
	e := NewFromString("Pack dir", "tar -zcvf", zerolog.Nop())
	want := []string{"tar", "-zcvf"}
	if len(e.cmd) != len(want) {
		t.Fatalf("cmd = %v, want %v", e.cmd, want)
	}
	for i := range want {
		if e.cmd[i] != want[i] {
			t.Errorf("cmd[%d] = %q, want %q", i, e.cmd[i], want[i])
		}
	}
}
