package repository

import (
	"context"
	"time"

	"coursemarket/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page     int
	Limit    int
	Status   string
	Provider string
	UserID   *int64
	From     *time.Time
	To       *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error)
	// ハイフン抜きの部分一致（保存形式の揺れ対策）。候補を全部返す（最大 limit 件）
	ListByStrippedOrderNumber(ctx context.Context, stripped string, limit int) ([]model.Order, error)
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// PENDINGのときだけ更新する。更新できなければ false
	TransitionFromPending(ctx context.Context, orderID int64, status model.OrderStatus, completedAt *time.Time) (bool, error)

	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
