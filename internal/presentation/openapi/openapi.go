// Package openapi REST APIのOpenAPI定義
package openapi

import _ "embed"

// Spec OpenAPI定義（YAML）
//
//go:embed openapi.yaml
var Spec []byte
