package repository

import (
	"context"
	"time"

	"coursemarket/internal/domain/model"
)

// 決済結果の反映内容
type PaymentResultUpdate struct {
	Status        model.PaymentStatus
	// 実際に通知してきたプロバイダ。空なら変えない
	Provider      model.PaymentProvider
	TransactionID string
	RawPayload    []byte
	PaidAt        *time.Time
}

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (int64, error)
	FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error)

	// PENDINGのときだけ更新する。更新できなければ false
	ApplyResult(ctx context.Context, paymentID int64, u PaymentResultUpdate) (bool, error)
}
