// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings of the API server, the background
// worker and the external collaborators they talk to.
package config
