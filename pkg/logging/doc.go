// Package logging provides structured logging configuration for hookd.
//
// This package wraps log/slog so every hookd component logs the same way.
// It supports configurable log levels, text or JSON output, and an optional
// log file that receives a copy of everything written to stderr.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("capture listener started", "addr", ":8080")
//
// Components accept a *slog.Logger in their constructor or via an option.
// If no logger is provided, use logging.Nop().
//
// Operational logs are distinct from the capture ledger: captured requests,
// connections and handler executions are persisted through pkg/store, and the
// console output of handler scripts is stored on each execution record rather
// than being written here.
package logging
