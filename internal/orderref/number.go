package orderref

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NewNumber は作成日（ベトナム時間）と3桁の乱数で注文番号を作る。
// 衝突は呼び出し側で存在確認して作り直す。
func NewNumber(now time.Time) string {
	return Canonical(now.In(vnTZ).Format(dateLayout), fmt.Sprintf("%03d", rand.IntN(1000)))
}

var vnTZ = time.FixedZone("ICT", 7*60*60)
