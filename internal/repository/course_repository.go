package repository

import (
	"context"

	"coursemarket/internal/domain/model"
)

// カタログは外部。ここでは参照だけ。
type CourseRepository interface {
	FindByID(ctx context.Context, id int64) (model.Course, error)
}
