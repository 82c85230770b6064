// Package config loads, normalizes, and validates relingo configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// OPENROUTER_API_KEY and RELINGO_DATABASE_URL. The Config type centralizes the
// knobs the daemon, the CLI, and the stage executors need: store selection,
// dispatch lease timing, per-class worker limits, retry policy, and tool
// settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, resolved stage settings, and clear validation errors.
package config
