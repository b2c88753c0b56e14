// Package config loads the gateway configuration from a YAML file, an
// optional .env file and environment variables. It defines the listener
// addresses, the prefix route table, the upstream timeout, reachability
// probing and logging settings, and validates them before use.
package config
