// Package testutil はテスト用の共通部品。
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/infra/db"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB はテストごとに使い捨てのSQLiteを作ってマイグレーションする。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// SeedCart はACTIVEカートとコースを作り、カートに入れる。
func SeedCart(t *testing.T, gdb *gorm.DB, userID int64, prices ...int64) (model.Cart, []model.Course) {
	t.Helper()
	ctx := context.Background()

	cart := model.Cart{UserID: userID, Status: model.CartStatusActive}
	if err := gdb.WithContext(ctx).Create(&cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}

	courses := make([]model.Course, 0, len(prices))
	for i, p := range prices {
		c := model.Course{Title: "course-" + string(rune('A'+i)), Price: p, IsPublished: true}
		if err := gdb.WithContext(ctx).Create(&c).Error; err != nil {
			t.Fatalf("create course: %v", err)
		}
		item := model.CartItem{CartID: cart.ID, CourseID: c.ID, UnitPriceSnapshot: p}
		if err := gdb.WithContext(ctx).Create(&item).Error; err != nil {
			t.Fatalf("create cart item: %v", err)
		}
		courses = append(courses, c)
	}
	return cart, courses
}

// Count はテーブル件数
func Count(t *testing.T, gdb *gorm.DB, m interface{}) int64 {
	t.Helper()
	var n int64
	if err := gdb.Model(m).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
