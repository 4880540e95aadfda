// Package config handles configuration loading for coven-actuator.
//
// # Configuration File
//
// The binary looks for its configuration in this order:
//
//  1. The --config flag
//  2. The COVEN_ACTUATOR_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/actuator.yaml (or ~/.config/coven/actuator.yaml)
//
// Files ending in .toml are decoded with BurntSushi/toml. Anything else is
// decoded as YAML, which also reads JSON.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${COVEN_ACTUATOR_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax or a bare number of seconds:
//
//	scheduler:
//	  heartbeat_interval: 20s
//	  preempt_grace_time: 30
//
// # Validation
//
// Parse applies defaults and calls Validate, which reports the first problem.
// The tick interval must not exceed the heartbeat interval or the grace time,
// otherwise deadlines would be observed late by more than one tick.
package config
