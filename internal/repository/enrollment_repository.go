package repository

import (
	"context"

	"coursemarket/internal/domain/model"
)

type EnrollmentRepository interface {
	// 既にあれば作らない。作ったときだけ true
	CreateIfAbsent(ctx context.Context, e model.Enrollment) (bool, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Enrollment, error)
}
