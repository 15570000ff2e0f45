// Package tracer names the logging/progress collaborator the recovery
// and scrubbing pipelines accept, without every package that only needs
// to log importing pkg/elog's CLI-rendering details directly (spec §6,
// "External Interfaces" — the tracer/telemetry collaborator).
package tracer

import "github.com/vdo-go/depot/pkg/elog"

// Tracer is satisfied by elog.CLI. Callers that want to observe repair
// and rebuild progress implement or embed it; the depot and recovery
// packages depend only on this alias, not on elog's terminal-rendering
// internals.
type Tracer = elog.View

// Progress is the progress-bar handle a Tracer's NewProgress hands back.
// Re-exported so depot and recovery need only import this package to
// report scrub and rebuild progress.
type Progress = elog.Progress
