// Package migrations は方言ごとのスキーマ定義SQLを埋め込む。
package migrations

import "embed"

// FS は {dialect}/{version}_{name}.sql を含む。
//
//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var FS embed.FS
