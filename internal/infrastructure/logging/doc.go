// Package logging provides the structured logger used across kefd.
//
// It is a thin wrapper over log/slog configured from the logging section
// of the configuration. Components receive child loggers via With so every
// record identifies its component.
package logging
