/*
Package platform provides host introspection used to gate agent modes.

The single capability exposed is container detection: an agent running
inside a container must not attempt to launch job containers of its
own, and it has to reap orphaned descendants after a job command exits.
Callers that need to stub this out (tests, embedding) accept the check
as a function or interface value rather than calling this package
directly.
*/
package platform
