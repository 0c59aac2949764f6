package domain

import "time"

// MigrationStatus はマイグレーションの適用状態。
type MigrationStatus string

const (
	// MigrationStatusPending は未適用を表す。
	MigrationStatusPending MigrationStatus = "pending"
	// MigrationStatusApplied は適用済みを表す。
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はSQLマイグレーションファイル1件の情報を表す。
// Versionはファイル名の数値プレフィックス（例: "001"）で、適用順を定める。
type Migration struct {
	Version   string
	Name      string
	FilePath  string
	AppliedAt *time.Time // 未適用の場合はnil
	Status    MigrationStatus
}
