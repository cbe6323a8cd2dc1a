// Package migrations embeds the archive schema migrations: the initial
// layout with globally-keyed message ids and the follow-up revision that
// scopes message identity to (dialog_id, id).
package migrations

import "embed"

// FS holds the versioned SQL files applied at startup.
//
//go:embed *.sql
var FS embed.FS
