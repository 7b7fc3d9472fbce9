package model

import "time"

// 注文明細。価格は購入時点のスナップショットで、後からカタログを読み直さない。
type OrderItem struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64     `gorm:"not null;index" json:"order_id"`
	CourseID            int64     `gorm:"not null;index" json:"course_id"`
	CourseTitleSnapshot string    `gorm:"type:varchar(255);not null" json:"course_title_snapshot"`
	UnitPriceSnapshot   int64     `gorm:"not null" json:"unit_price_snapshot"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
