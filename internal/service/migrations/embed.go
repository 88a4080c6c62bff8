package migrations

import "embed"

// FS содержит схему SQLite для рейтинга.
//
//go:embed *.sql
var FS embed.FS
