package repository

import (
	"context"
	"errors"

	"coursemarket/internal/domain/model"
	repo "coursemarket/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) Create(ctx context.Context, p model.Payment) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *PaymentGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

func (r *PaymentGormRepository) ApplyResult(ctx context.Context, paymentID int64, u repo.PaymentResultUpdate) (bool, error) {
	values := map[string]interface{}{"status": u.Status}
	if u.Provider != "" {
		values["provider"] = u.Provider
	}
	if u.TransactionID != "" {
		values["transaction_id"] = u.TransactionID
	}
	if len(u.RawPayload) > 0 {
		values["raw_payload"] = datatypes.JSON(u.RawPayload)
	}
	if u.PaidAt != nil {
		values["paid_at"] = *u.PaidAt
	}

	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
