// Package config loads the querymesh configuration: built-in defaults, then
// a YAML file with ${VAR} expansion, then QUERYMESH_* environment
// overrides. Provider API keys fall back to OPENAI_API_KEY and
// ANTHROPIC_API_KEY.
package config
