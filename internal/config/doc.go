// Package config loads the listener's YAML configuration.
//
// Files support ${VAR} environment interpolation. A .env file next to the
// config (or named explicitly) is loaded first so its values are visible to
// interpolation without overriding variables already set in the process.
package config
