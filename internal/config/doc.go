// Package config loads, normalizes, and validates Soundbite configuration
// data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the daemon and CLI need: pipeline variant and timeouts, quota budget
// planning, review penalties, publish dispatch, worker executables, and
// logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
