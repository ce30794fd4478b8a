/*
Package runtime provides a containerd connectivity probe.

Image mode hands every job to a container image, so an agent starting
in that mode must fail fast when no runtime is reachable rather than
claim jobs it cannot run. The probe connects to the containerd socket
and issues a version request; that is the whole contract. Launching job
containers goes through the runtime CLI (see pkg/executor), not through
this client.
*/
package runtime
