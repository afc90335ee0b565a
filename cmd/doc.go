// Package cmd implements the command-line interface of dMem.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a node running the sharded demo counter entity behind an HTTP API
//   - inspect: Prints the remembered members of a store from a leveldb journal
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmem -help for a list of all commands.
package cmd
