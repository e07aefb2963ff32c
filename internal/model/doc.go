// Package model defines the domain types and value objects for the
// devserve CLI.
//
// This package contains pure data structures with no external dependencies.
// PortOwner values are transient representations of live OS and Docker state;
// Instance records are the only persisted entity (YAML files written by the
// state package), and even those are re-validated against the process table
// on every load.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
