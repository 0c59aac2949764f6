package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"syberkey-service/internal/domain"
)

// MigrationRepository はマイグレーション適用履歴のインターフェース。
type MigrationRepository interface {
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	RecordMigration(ctx context.Context, version string) error
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
}

// MigrationService はSQLファイルベースのマイグレーション実行を提供する。
type MigrationService struct {
	repo MigrationRepository
	db   *gorm.DB
	dir  string
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, migrationsDir string) *MigrationService {
	return &MigrationService{repo: repo, db: db, dir: migrationsDir}
}

// loadMigrations はディレクトリ内の.sqlファイルをバージョン順に列挙する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_user_credentials.sql)
func (s *MigrationService) loadMigrations() ([]*domain.Migration, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing migration files: %w", err)
	}
	if paths == nil {
		if _, err := os.Stat(s.dir); err != nil {
			return nil, fmt.Errorf("reading migrations directory: %w", err)
		}
	}

	migrations := make([]*domain.Migration, 0, len(paths))
	for _, path := range paths {
		base := strings.TrimSuffix(filepath.Base(path), ".sql")
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" || name == "" {
			return nil, fmt.Errorf("%w: %s (expected {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filepath.Base(path))
		}
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: path,
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ApplyMigrations は未適用マイグレーションをバージョン順に実行し、
// 適用した件数を返す。途中で失敗した場合、それまでの適用分は有効なまま残る。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	migrations, err := s.loadMigrations()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		done, err := s.repo.IsMigrationApplied(ctx, m.Version)
		if err != nil {
			return applied, fmt.Errorf("checking migration %s: %w", m.Version, err)
		}
		if done {
			continue
		}

		if err := s.applyOne(ctx, m); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", m.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}

		slog.InfoContext(ctx, "migration applied",
			"version", m.Version,
			"name", m.Name,
		)
		applied++
	}

	return applied, nil
}

// applyOne は1件のマイグレーションをSQL実行と履歴記録を同一トランザクションで行う。
func (s *MigrationService) applyOne(ctx context.Context, m *domain.Migration) error {
	sqlBytes, err := os.ReadFile(m.FilePath)
	if err != nil {
		return fmt.Errorf("reading migration file: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("executing migration SQL: %w", err)
		}

		record := struct {
			Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
			AppliedAt time.Time `gorm:"column:applied_at"`
		}{Version: m.Version, AppliedAt: time.Now()}
		if err := tx.Table("schema_migrations").Create(&record).Error; err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus は全マイグレーションファイルと適用状態の一覧を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	migrations, err := s.loadMigrations()
	if err != nil {
		return nil, err
	}

	appliedList, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	appliedAt := make(map[string]*time.Time, len(appliedList))
	for _, a := range appliedList {
		appliedAt[a.Version] = a.AppliedAt
	}

	for _, m := range migrations {
		if at, ok := appliedAt[m.Version]; ok {
			m.Status = domain.MigrationStatusApplied
			m.AppliedAt = at
		}
	}
	return migrations, nil
}
