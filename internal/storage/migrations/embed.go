package migrations

import "embed"

// PostgresFS holds the pipeline schema and notify-trigger migrations.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the analytics archive schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
