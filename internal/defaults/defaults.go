// Package defaults provides the embedded starter configuration written
// by the grantdesk init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte
