// Package logx is seqd's structured logging facade over zerolog.
//
// It fans a single root logger out to console, file and systemd-journal
// sinks. The journal sink is rate limited so per-invocation trace lines
// emitted at the sequencer base rate cannot flood journald.
//
// Sinks must never block callers: sequencer workers log from timing
// sensitive loops, so every writer here is either in-memory, an
// append-only file write, or a non-blocking socket send.
package logx
