// Package leveljournal implements a durable journal.Journal on top of goleveldb.
//
// All persistence ids share one LevelDB database. Keys are laid out as
//
//	tag (1 byte) | len(pid) (uvarint) | pid | seq (8 bytes, big endian)
//
// with the tags 'e' for events, 's' for snapshots and 'h' for the highest
// sequence number of a stream (which has no seq suffix). The big endian
// sequence number keeps the records of one stream ordered, so replay and
// deletion are plain range iterations. Appends write the event and the new
// highest sequence number in one synced batch.
package leveljournal
