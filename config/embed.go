// Package config embeds the built-in default configuration.
package config

import _ "embed"

// Default is the default conf.yaml shipped with the binary.
//
//go:embed default.yaml
var Default []byte
