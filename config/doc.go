// Package config loads the configuration tree from defaults, an optional
// YAML file, and QUANTFLEET_-prefixed environment variables, in that order.
package config
