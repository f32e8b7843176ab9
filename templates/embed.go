// Package templates embeds the setup-form templates served by the hub.
package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var FS embed.FS

// LoadTemplates parses every embedded template.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(FS, "*.html")
}
