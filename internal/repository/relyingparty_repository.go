package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syberkey-service/internal/domain"
)

// RelyingPartyModel はgorm用のモデル定義。
type RelyingPartyModel struct {
	ID           string    `gorm:"type:varchar(64);primaryKey"`
	SealedMACKey []byte    `gorm:"column:sealed_mac_key;type:blob;not null"`
	CreatedAt    time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (RelyingPartyModel) TableName() string {
	return "relying_parties"
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *RelyingPartyModel) toDomain() *domain.RelyingParty {
	return &domain.RelyingParty{
		ID:           m.ID,
		SealedMACKey: m.SealedMACKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// RelyingPartyRepository は信頼関係のデータアクセスを提供する。
type RelyingPartyRepository struct {
	db *gorm.DB
}

// NewRelyingPartyRepository は新しいRelyingPartyRepositoryを生成する。
func NewRelyingPartyRepository(db *gorm.DB) *RelyingPartyRepository {
	return &RelyingPartyRepository{db: db}
}

// FindByID は指定されたRPの信頼関係を取得する。存在しない場合は(nil, nil)。
func (r *RelyingPartyRepository) FindByID(ctx context.Context, rpID string) (*domain.RelyingParty, error) {
	var model RelyingPartyModel
	err := r.db.WithContext(ctx).
		Where("id = ?", rpID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find relying party",
			"operation", "find_by_id",
			"rp_id", rpID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Upsert は信頼関係を登録または置換する。後勝ちの冪等操作。
func (r *RelyingPartyRepository) Upsert(ctx context.Context, rp *domain.RelyingParty) error {
	model := &RelyingPartyModel{
		ID:           rp.ID,
		SealedMACKey: rp.SealedMACKey,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sealed_mac_key", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert relying party",
			"operation", "upsert",
			"rp_id", rp.ID,
			"error", err,
		)
		return err
	}
	rp.CreatedAt = model.CreatedAt
	rp.UpdatedAt = model.UpdatedAt
	return nil
}
