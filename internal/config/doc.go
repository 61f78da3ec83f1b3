// Package config provides configuration management for stdistill.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. Defaults are merged under the file, so a config file
// only needs the keys it changes.
//
// # Configuration File
//
// The configuration is stored at ~/.stdistill/config.yaml unless --config
// names another file, and is created with defaults on first use. The file
// structure mirrors the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the STDISTILL_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - STDISTILL_GENERATION_ENDPOINT=http://gpu-box:8000/v1
//   - STDISTILL_DISPATCH_MAX_CONCURRENCY=16
//   - STDISTILL_SEEDS_TARGET_COUNT=5000
//   - STDISTILL_LOGGING_LEVEL=debug
//
// OPENAI_API_KEY is used when generation.api_key is empty.
//
// # Configuration Sections
//
//   - project: run name, data directory and dataset output files
//   - generation: backend type, endpoint, model and sampling
//   - dispatch: concurrency ceiling, retries and self-correction depth
//   - evolution: constraint injection depth and catalog
//   - seeds: seed corpus, brainstorming and target count
//   - verdict: fast check limits and the iec2c compiler
//   - dedup: fingerprint normalization and index capacity
//   - golden: persisted fingerprints and exemplars (sqlite, postgres, none)
//   - prompts: template override file
//   - logging: level, file and output format
//   - status: status endpoint address
//   - incidents: Redis stream for system errors
//   - export: S3-compatible dataset upload
//
// # Path Expansion
//
// The package expands ~ to the user's home directory in all path
// configurations.
package config
