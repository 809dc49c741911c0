// Package config loads and validates Hearth Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by HEARTH_* environment variables for secrets and
// deployment-specific values.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    // config is invalid or unreadable; refuse to start
//	}
package config
