package model

import "time"

// 決済まわりの状態変更
type AuditAction string

const (
	//0円注文を即時確定した
	AuditActionCheckoutFree AuditAction = "CHECKOUT_FREE"
	//入金確認でPAIDにした
	AuditActionPaymentConfirmed AuditAction = "PAYMENT_CONFIRMED"
	//決済失敗でFAILEDにした
	AuditActionPaymentFailed AuditAction = "PAYMENT_FAILED"
)

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceOrder AuditResourceType = "order"
)

// 監査ログ。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
// システム（コールバック）による変更はActorUserIDが0。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
