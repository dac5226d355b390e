package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"onsei/voicegate/internal/model"
)

type gormCodeRepository struct {
	db *gorm.DB
}

func NewGormCodeRepository(db *gorm.DB) CodeRepository {
	return &gormCodeRepository{db: db}
}

func (r *gormCodeRepository) GetByCode(ctx context.Context, code string) (*model.SerialCode, error) {
	var sc model.SerialCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&sc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}

func (r *gormCodeRepository) Upsert(ctx context.Context, code, audioURL string, maxUses, initialUsage int) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.SerialCode
		err := tx.Where("code = ?", code).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			return tx.Create(&model.SerialCode{
				Code:       code,
				AudioURL:   audioURL,
				UsageCount: initialUsage,
				MaxUses:    maxUses,
			}).Error
		case err != nil:
			return err
		default:
			// usage_count is deliberately untouched on update.
			return tx.Model(&existing).Updates(map[string]interface{}{
				"audio_url": audioURL,
				"max_uses":  maxUses,
			}).Error
		}
	})
	return created, err
}

// TryConsume performs the check and increment as one statement. A separate
// read followed by a write would let two concurrent redemptions both observe
// usage_count < max_uses and both commit; the conditional UPDATE with a
// rows-affected check cannot.
func (r *gormCodeRepository) TryConsume(ctx context.Context, code string) (int, error) {
	var sc model.SerialCode
	res := r.db.WithContext(ctx).
		Model(&sc).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "usage_count"}}}).
		Where("code = ? AND usage_count < max_uses", code).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		return sc.UsageCount, nil
	}

	// Nothing matched: the code is either absent or exhausted.
	existing, err := r.GetByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return existing.UsageCount, ErrExhausted
}

func (r *gormCodeRepository) ResetOne(ctx context.Context, code string) (*model.SerialCode, error) {
	res := r.db.WithContext(ctx).
		Model(&model.SerialCode{}).
		Where("code = ?", code).
		Update("usage_count", 0)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByCode(ctx, code)
}

func (r *gormCodeRepository) ResetAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&model.SerialCode{}).
		Update("usage_count", 0)
	return res.RowsAffected, res.Error
}

func (r *gormCodeRepository) List(ctx context.Context) ([]model.SerialCode, error) {
	var codes []model.SerialCode
	if err := r.db.WithContext(ctx).Order("code").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}
