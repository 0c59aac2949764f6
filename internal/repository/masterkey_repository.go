package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// MasterKeyName はブロブ暗号用マスター鍵のレコード名。
const MasterKeyName = "blob_cipher"

// MasterKeyModel は封印済みマスター鍵のgormモデル。
type MasterKeyModel struct {
	Name      string    `gorm:"type:varchar(32);primaryKey"`
	SealedKey []byte    `gorm:"column:sealed_key;type:blob;not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (MasterKeyModel) TableName() string {
	return "idp_keys"
}

// MasterKeyRepository は封印済みマスター鍵のデータアクセスを提供する。
type MasterKeyRepository struct {
	db *gorm.DB
}

// NewMasterKeyRepository は新しいMasterKeyRepositoryを生成する。
func NewMasterKeyRepository(db *gorm.DB) *MasterKeyRepository {
	return &MasterKeyRepository{db: db}
}

// Find は指定された名前の封印済み鍵を取得する。存在しない場合は(nil, nil)。
func (r *MasterKeyRepository) Find(ctx context.Context, name string) ([]byte, error) {
	var model MasterKeyModel
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find master key",
			"operation", "find",
			"name", name,
			"error", err,
		)
		return nil, err
	}
	return model.SealedKey, nil
}

// Create は封印済み鍵を保存する。
func (r *MasterKeyRepository) Create(ctx context.Context, name string, sealedKey []byte) error {
	model := &MasterKeyModel{
		Name:      name,
		SealedKey: sealedKey,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create master key",
			"operation", "create",
			"name", name,
			"error", err,
		)
		return err
	}
	return nil
}
