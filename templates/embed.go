// Package templates provides embedded prompt templates.
package templates

import "embed"

// Prompts contains embedded prompt template files, one per task type plus
// the shared fragments (learnings, retry, follow-up steps).
//
//go:embed prompts/*.md
var Prompts embed.FS
