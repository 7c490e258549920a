// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, storage driver selection, credential verification
// probes, and the operator-tunable pool scheduling knobs.
package config
