/*
Package log provides structured logging for cadence using zerolog.

A single global logger is configured once with Init and shared by every
component. Components derive a child logger at construction time so every
line carries a component field:

	logger := log.WithComponent("batch")
	logger.Info().Int("batch", 9600).Str("reason", "ensemble").Msg("batch size adjusted")

Models are tagged with WithModel so promotion and rejection lines can be
filtered per model kind:

	logger := log.WithModel("lifecycle", "assignment")
	logger.Warn().Msg("candidate rejected")

Raft traffic is tagged with the local node as well, through WithNodeID.
New builds a standalone logger from a Config without touching the global
one, which tests use to capture output.

Output is either human readable (console writer with RFC3339 timestamps)
or JSON, selected by Config.JSONOutput. Decision functions on the
transaction hot path only log at debug level; the global level set by Init
makes those calls a no-op in production.
*/
package log
