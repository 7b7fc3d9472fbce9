package model

import "time"

// 受講登録。同じユーザー×コースは1件だけ。
type Enrollment struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"not null;uniqueIndex:idx_enrollments_user_course" json:"user_id"`
	CourseID   int64     `gorm:"not null;uniqueIndex:idx_enrollments_user_course" json:"course_id"`
	OrderID    int64     `gorm:"not null;index" json:"order_id"`
	EnrolledAt time.Time `gorm:"not null" json:"enrolled_at"`
}
