// Package common holds the configuration and logging setup shared by the dMem
// command line tools and libraries.
//
// Logging:
//
//	All packages obtain their logger through dragonboat's logger facade
//	(logger.GetLogger("<name>")). InitLoggers installs a factory whose loggers
//	write through zerolog, either as JSON lines or in a human readable console
//	format, and sets the level of both the dragonboat internal loggers and the
//	dMem loggers (journal, membership, sharding, ...).
//
// Configuration:
//
//	Config aggregates every tunable of a node: the remember-entities settings
//	(snapshot-after, keep-nr-of-batches, updating-state-timeout, the three
//	backoffs), the journal backend and the raft parameters used by the
//	replicated journal. String renders the configuration for the startup log.
package common
