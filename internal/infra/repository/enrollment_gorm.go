package repository

import (
	"context"

	"coursemarket/internal/domain/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentGormRepository struct {
	db *gorm.DB
}

func NewEnrollmentGormRepository(db *gorm.DB) *EnrollmentGormRepository {
	return &EnrollmentGormRepository{db: db}
}

// (user_id, course_id) のユニーク制約に任せる
func (r *EnrollmentGormRepository) CreateIfAbsent(ctx context.Context, e model.Enrollment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *EnrollmentGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.Enrollment, error) {
	var items []model.Enrollment
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.Enrollment{}, err
	}
	return items, nil
}
