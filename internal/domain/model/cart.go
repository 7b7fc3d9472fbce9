package model

import "time"

type CartStatus string

const (
	CartStatusActive CartStatus = "ACTIVE"
)

// 1ユーザーにつきACTIVEは1つ。支払い完了後は明細だけ消して使い回す。
type Cart struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"not null;index" json:"user_id"`
	Status    CartStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
