package model

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// 注文と1:1の決済記録
type Payment struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       int64           `gorm:"not null;uniqueIndex" json:"order_id"`
	Provider      PaymentProvider `gorm:"type:varchar(20);not null" json:"provider"`
	TransactionID *string         `gorm:"type:varchar(100);index" json:"transaction_id"`
	Amount        int64           `gorm:"not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status        PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`

	//プロバイダから届いた生データ（監査用）
	RawPayload datatypes.JSON `json:"-"`

	PaidAt    *time.Time `json:"paid_at"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
