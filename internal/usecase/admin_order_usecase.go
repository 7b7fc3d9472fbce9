package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"coursemarket/internal/domain/model"
	repo "coursemarket/internal/repository"
)

type AdminOrderUsecase struct {
	tx repo.TransactionManager
}

func NewAdminOrderUsecase(tx repo.TransactionManager) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx}
}

type AdminOrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 注文一覧（status / provider / user / 期間で絞り込み）
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (AdminOrderListOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	f.Status = strings.ToUpper(strings.TrimSpace(f.Status))
	switch model.OrderStatus(f.Status) {
	case "", model.OrderStatusPending, model.OrderStatusPaid, model.OrderStatusFailed,
		model.OrderStatusCancelled, model.OrderStatusRefunded:
	default:
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	f.Provider = strings.ToUpper(strings.TrimSpace(f.Provider))
	switch model.PaymentProvider(f.Provider) {
	case "", model.ProviderVNPay, model.ProviderSePay, model.ProviderFree:
	default:
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid provider")
	}

	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "from must be <= to")
	}

	out := AdminOrderListOutput{Page: f.Page, Limit: f.Limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return AdminOrderListOutput{}, err
	}
	return out, nil
}

// AuditTrail は注文の状態変更ログを新しい順に返す
func (u *AdminOrderUsecase) AuditTrail(ctx context.Context, orderNumber string) ([]model.AuditLog, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, NewHTTPError(http.StatusBadRequest, "order number is required")
	}

	var logs []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByOrderNumber(ctx, orderNumber)
		if errors.Is(err, repo.ErrNotFound) {
			return WrapHTTPError(http.StatusNotFound, "not found", ErrLookup)
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		resource := model.AuditResourceOrder
		logs, err = r.AuditLogs().List(ctx, repo.AuditLogFilter{
			ResourceType: &resource,
			ResourceID:   &o.ID,
			Limit:        200,
		})
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
