// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syberkey-service/internal/domain"
)

// UserCredentialModel はgorm用のモデル定義。
type UserCredentialModel struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	UID            string    `gorm:"column:uid;type:varchar(64);not null;uniqueIndex:uk_uid"`
	Version        uint      `gorm:"not null"`
	TemplateDigest string    `gorm:"type:char(64);not null"`
	Blob           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (UserCredentialModel) TableName() string {
	return "user_credentials"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *UserCredentialModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *UserCredentialModel) toDomain() *domain.UserCredential {
	return &domain.UserCredential{
		ID:             m.ID,
		UID:            m.UID,
		Version:        m.Version,
		TemplateDigest: m.TemplateDigest,
		Blob:           m.Blob,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// CredentialRepository はユーザークレデンシャルのデータアクセスを提供する。
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository は新しいCredentialRepositoryを生成する。
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByUID は指定されたユーザーの有効なクレデンシャルを取得する。
// 存在しない場合は(nil, nil)を返す。
func (r *CredentialRepository) FindByUID(ctx context.Context, uid string) (*domain.UserCredential, error) {
	var model UserCredentialModel
	err := r.db.WithContext(ctx).
		Where("uid = ?", uid).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find credential",
			"operation", "find_by_uid",
			"uid", uid,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Upsert は有効なクレデンシャルを保存する。uidが既に存在する場合は
// 上書きし、旧ブロブを恒久的に無効化する。
func (r *CredentialRepository) Upsert(ctx context.Context, cred *domain.UserCredential) error {
	model := &UserCredentialModel{
		ID:             cred.ID,
		UID:            cred.UID,
		Version:        cred.Version,
		TemplateDigest: cred.TemplateDigest,
		Blob:           cred.Blob,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "template_digest", "blob", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert credential",
			"operation", "upsert",
			"uid", cred.UID,
			"version", cred.Version,
			"error", err,
		)
		return err
	}
	cred.ID = model.ID
	cred.CreatedAt = model.CreatedAt
	cred.UpdatedAt = model.UpdatedAt
	return nil
}
