package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はデータベースマイグレーションを表すドメインモデル
type Migration struct {
	Version   string          // マイグレーションバージョン（例: "001"）
	Name      string          // ファイル名から抽出した名前
	Dialect   string          // mysql / postgres / sqlite
	Path      string          // 埋め込みFS内のパス
	AppliedAt *time.Time      // 未適用の場合はnil
	Status    MigrationStatus // 適用状態
}
