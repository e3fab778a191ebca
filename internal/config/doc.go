// Package config provides configuration loading and validation for the
// session and routing core. It reads a YAML file, applies PULSE_* environment
// overrides (optionally from a .env file), and validates every section before
// the process starts.
package config
