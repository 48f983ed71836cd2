// Package config loads and validates kefd configuration.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by KEFD_* environment variables. The daemon runs
// with a fully defaulted configuration when no file is supplied, which is
// the common case: discovery and the local API need no site-specific
// settings.
package config
