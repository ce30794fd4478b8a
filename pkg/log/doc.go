/*
Package log holds the process-wide zerolog root logger.

The root logger starts as a no-op so packages can derive child loggers
before configuration happens; Init, called once from the command,
replaces it with a console or JSON logger at the requested level.

	log.Init("info", false)
	logger := log.WithWorker("uworker_host01")
	logger.Warn().Str("image", img).Msg("refusing image job in command mode")

Only two derivation helpers exist because only two stable fields are
ever attached at the root: the component name and the worker identity.
Everything finer-grained (process name, exec id, job fields) is added
by the owning package on its own child logger.
*/
package log
