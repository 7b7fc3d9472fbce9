package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// PENDING以外は自動では動かさない
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

// 決済プロバイダ
type PaymentProvider string

const (
	ProviderVNPay PaymentProvider = "VNPAY"
	ProviderSePay PaymentProvider = "SEPAY"
	// 0円注文（外部決済なし）
	ProviderFree PaymentProvider = "FREE"
)

const CurrencyVND = "VND"

// 注文。金額は最小通貨単位。
type Order struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber string          `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	UserID      int64           `gorm:"not null;index" json:"user_id"`
	TotalAmount int64           `gorm:"not null" json:"total_amount"`
	Currency    string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status      OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	Provider    PaymentProvider `gorm:"type:varchar(20);not null" json:"provider"`
	CompletedAt *time.Time      `json:"completed_at"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
