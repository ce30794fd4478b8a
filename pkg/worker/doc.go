/*
Package worker implements the uworker agent loop.

The worker is the data-plane actor of a distributed job queue: the
coordinator owns scheduling and persistence, the worker owns execution,
liveness and progress reporting. One job is in flight at a time; the
loop never overlaps fetch with execute.

# Loop

	        ┌────────────────────────────────────────────┐
	        │                                            │
	        ▼                                            │
	  fetch job ── none ──▶ idle sleep (600 s) ──────────┤
	        │                                            │
	   mode mismatch ─────▶ warn + idle sleep ───────────┤
	        │                                            │
	  claim (≤5 tries, 409 ends) ── lost ────────────────┤
	        │                                            │
	  STARTED ─▶ execute ─▶ FINISHED / FAILED ───────────┤
	        │                      (processing time)     │
	  any error ──▶ log + error sleep (30 s) ────────────┘

Executor output is forwarded to the coordinator through a throttled
callback; forwarding failures are logged and swallowed so a failing
coordinator never aborts a running job. Terminal status posts are
best-effort — if they fail after the retry budget, the coordinator
times the job out and hands it to another worker.

# Modes

Command mode runs every job through a fixed local command
(UWORKER_JOB_CMD) scoped to one project. Image mode runs the container
image each job carries; it must not be started from inside a container
and requires a reachable container runtime, both checked at
construction. The coordinator may still hand out jobs that don't match
the agent's mode; those are logged and skipped.

# Shutdown

SIGINT/SIGTERM (wired to Stop by the command) end the loop after the
current job completes. The in-flight job is neither unclaimed nor
aborted; the child process is left to finish.
*/
package worker
