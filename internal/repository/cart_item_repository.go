package repository

import (
	"context"

	"coursemarket/internal/domain/model"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 同じコースが既にあれば何もしない
	AddIfAbsent(ctx context.Context, cartID int64, courseID int64, unitPriceSnapshot int64) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	// 注文に入ったコースだけカートから外す
	DeleteByCourseIDs(ctx context.Context, cartID int64, courseIDs []int64) error
	IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error)
}
