/*
Package executor runs one job as a child process and streams its output.

An Executor owns a single child for the duration of one job: it spawns
the process from a fixed base command plus per-job arguments, pumps
stdout and stderr concurrently into a shared timestamped buffer,
enforces a wall-clock timeout with SIGTERM→SIGKILL escalation, and
returns the exit disposition.

	┌────────────────────── EXECUTOR ───────────────────────┐
	│                                                        │
	│   child process (optionally under `timeout`)           │
	│      │ stdout              │ stderr                    │
	│      ▼                     ▼                           │
	│   ┌──────┐             ┌──────┐                        │
	│   │ pump │             │ pump │   one goroutine each   │
	│   └──┬───┘             └──┬───┘                        │
	│      └───────┬────────────┘                            │
	│              ▼                                         │
	│      output buffer (mutex)                             │
	│      "2006-01-02T15:04:05.000000 - STDOUT: line"       │
	│              │ throttled + deduplicated                │
	│              ▼                                         │
	│       output callback  ──▶  coordinator                │
	└────────────────────────────────────────────────────────┘

Intermediate callbacks fire at most once per interval (60 s by default)
and are skipped when the snapshot did not change; the final callback
after exit always delivers the complete buffer. Exit codes 124 and 137
from the timeout watchdog are recognized as a timeout kill and recorded
in the buffer.

ContainerExecutor specializes the base command to the container runtime
CLI (`run -i --rm --network=… -e K=V … image`). Before running it
probes the local image store with `images -q` and pulls the image only
when absent; both the probe and the pull run through ordinary
sub-executors so their output lands in the same callback stream.

Inside a container the executor additionally reaps orphaned descendants
after the child exits, since nothing else will.
*/
package executor
