/*
Package metrics provides Prometheus collectors for the uworker agent.

Counters cover the loop's observable outcomes: jobs by terminal status,
claims lost to other workers, and fetches that came back empty, plus a
processing-time histogram. Init registers everything with the default
registry; Serve exposes /metrics on a dedicated address when the agent
is started with --metrics-addr.
*/
package metrics
