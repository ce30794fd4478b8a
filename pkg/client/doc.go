/*
Package client implements the HTTP client for the coordinator's job API
and the typed job handle built on top of it.

The client authenticates with a bearer token acquired from the /token
endpoint using the configured basic-auth credentials. The token is
acquired lazily on the first call, cached, and renewed exactly once
when a call answers 401; a second 401 on the renewed call surfaces as
an APIError rather than recursing.

# Retry policy

Requests are retried only on transport-level failures (connection
refused, DNS, socket errors) — any HTTP response, including an error
response, ends the retry loop. The budget is 200 retries by default.
The delay schedule is constant when a fixed wait was configured,
otherwise exponential: min(3^n, 300) seconds before attempt n.

	┌────────────┐  transport error   ┌─────────┐
	│  request   │ ─────────────────▶ │ backoff │ ──▶ retry (≤ budget)
	└────────────┘                    └─────────┘
	      │ response
	      ▼
	  401? ──▶ renew token, re-issue once
	      │
	  ≥300? ──▶ APIError{status, reason}
	      │
	      ▼
	   caller

# Job handle

Job wraps a fetched descriptor. FetchJob returns (nil, nil) on a 404 —
"no job available" is an empty result, not an error. Claim is a
single-shot latch: after the first success, further calls issue no
traffic, and the flag never resets within the handle's lifetime. The
coordinator state machine is advanced strictly forward:

	AVAILABLE → CLAIMED → STARTED → (FINISHED | FAILED)
*/
package client
