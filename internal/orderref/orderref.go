// Package orderref は注文番号の採番と、振込内容のような自由文からの注文番号の復元を扱う。
//
// 正規形は ORD-YYYYMMDD-NNN。銀行アプリが記号を落としたり足したりするので、
// 復元は正規形に組み直してから返す。
package orderref

import (
	"regexp"
	"strings"
	"time"
)

const (
	Prefix     = "ORD"
	dateLayout = "20060102"
)

var (
	// 構造化フィールドに入っている値がこの形ならそのまま信じる
	wellFormed = regexp.MustCompile(`(?i)^ORD-?\d{8}-?\d+$`)

	// 上から順に試す
	narrationPatterns = []*regexp.Regexp{
		// ORD-20251214-269
		regexp.MustCompile(`(?i)ORD-(\d{8})-(\d+)`),
		// ORD-2025-12-14-269
		regexp.MustCompile(`(?i)ORD-(\d{4})-(\d{2})-(\d{2})-(\d+)`),
		// ORD20251214269（ハイフンを全部落とされた形）。連番は3桁
		regexp.MustCompile(`(?i)ORD(\d{8})(\d{3})(?:\D|$)`),
		// 銀行が数字をくっつけた ORD20251214269100000
		regexp.MustCompile(`(?i)ORD(\d{8})(\d{3})`),
	}

	// プレフィックスごと消えた 20251214-269 / 20251214269
	dateBlock = regexp.MustCompile(`(?:^|\D)(\d{8})-?(\d{3})(?:\D|$)`)
)

// 注文番号が直接入っている可能性のあるフィールド（優先順）
var RefFieldKeys = []string{"order_id", "orderId", "order_number"}

// Canonical は ORD-YYYYMMDD-NNN を組み立てる
func Canonical(date, seq string) string {
	return Prefix + "-" + date + "-" + seq
}

// Strip はハイフンを除いた形。部分一致検索のキーに使う
func Strip(orderNumber string) string {
	return strings.ReplaceAll(orderNumber, "-", "")
}

// Extract は候補フィールドを先に見て、無ければ自由文から注文番号を探す。
func Extract(fields map[string]string, narration string) (string, bool) {
	for _, k := range RefFieldKeys {
		v := strings.TrimSpace(fields[k])
		if v != "" && wellFormed.MatchString(v) {
			if n, ok := FromNarration(v); ok {
				return n, true
			}
			return strings.ToUpper(v), true
		}
	}
	return FromNarration(narration)
}

// FromNarration は自由文から注文番号を探して正規形で返す
func FromNarration(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, re := range narrationPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		switch len(m) {
		case 3:
			return Canonical(m[1], m[2]), true
		case 5:
			return Canonical(m[1]+m[2]+m[3], m[4]), true
		}
	}
	return "", false
}

// ExtractDateBlock はプレフィックスの無い 8桁日付+3桁連番 を探す。
// 日付として成立しない8桁は無視する。
func ExtractDateBlock(text string) (string, bool) {
	for _, m := range dateBlock.FindAllStringSubmatch(text, -1) {
		if _, err := time.Parse(dateLayout, m[1]); err != nil {
			continue
		}
		return Canonical(m[1], m[2]), true
	}
	return "", false
}
