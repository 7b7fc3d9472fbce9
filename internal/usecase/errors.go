package usecase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ACTIVEカートが無い、または空
	ErrCartEmpty = errors.New("cart empty")
	// コールバックから注文を特定できない
	ErrLookup = errors.New("order not resolved")
	// VNPAY / SEPAY 以外
	ErrInvalidProvider = errors.New("invalid payment provider")
	// PAID以外の注文に受講登録を作ろうとした
	ErrOrderNotPaid = errors.New("order is not paid")
)

// AmbiguousRefError は部分一致で複数の注文に当たったとき。
// どれかを選ぶと他人の注文を確定させかねないので ErrLookup 扱いにする。
type AmbiguousRefError struct {
	Ref        string
	Candidates []string
}

func (e *AmbiguousRefError) Error() string {
	return fmt.Sprintf("order reference %q matches %d orders: %s", e.Ref, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousRefError) Unwrap() error { return ErrLookup }
