package model

import "time"

// カートの明細
// 追加時点の価格を必ず保存。コースなので数量はない。
type CartItem struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID            int64     `gorm:"not null;uniqueIndex:idx_cart_items_cart_course" json:"cart_id"`
	CourseID          int64     `gorm:"not null;uniqueIndex:idx_cart_items_cart_course" json:"course_id"`
	UnitPriceSnapshot int64     `gorm:"not null;column:unit_price_snapshot" json:"unit_price_snapshot"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
