// Package ljournal implements journal.Journal in memory.
//
// Streams are kept in an xsync.MapOf keyed by persistence id, each stream is
// guarded by its own mutex so appends to different persistence ids never
// contend. Payloads are copied on write, replay works on a copy of the
// requested range and therefore never blocks writers while the caller iterates.
//
// The journal enforces the same sequence rules as the durable implementations,
// which makes it a faithful stand-in for tests of the recovery protocol.
package ljournal
