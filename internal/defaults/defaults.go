// Package defaults provides embedded copies of the example config and
// env files for the chatngt init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed env.example
var EnvExample []byte
