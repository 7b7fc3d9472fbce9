package repository

import (
	"context"
	"errors"

	"coursemarket/internal/domain/model"
	repo "coursemarket/internal/repository"

	"gorm.io/gorm"
)

type CourseGormRepository struct {
	db *gorm.DB
}

// DI
func NewCourseGormRepository(db *gorm.DB) *CourseGormRepository {
	return &CourseGormRepository{db: db}
}

func (r *CourseGormRepository) FindByID(ctx context.Context, id int64) (model.Course, error) {
	var c model.Course
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Course{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Course{}, err
	}
	return c, nil
}
