// Package schemas embeds the JSON Schemas shipped with the repository.
package schemas

import _ "embed"

// Config is the JSON Schema of the permit_agent configuration file.
//
//go:embed config.schema.json
var Config string
