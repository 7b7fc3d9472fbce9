// Package gateway は外部決済プロバイダとの署名付きやり取りをまとめる。
//
// プロバイダごとにプロトコルは互換性がないので、Gateway という1つの能力インターフェースに
// 2つの実装（VNPay / SePay）をぶら下げ、注文に保存されたプロバイダで選ぶ。
package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"coursemarket/internal/domain/model"
)

var (
	// シークレットやURLの設定不備（起動時か初回利用時に致命的）
	ErrConfiguration = errors.New("gateway configuration error")
	// 金額0以下など、外部に出す前に弾く入力
	ErrValidation = errors.New("gateway validation error")
	// 署名不一致
	ErrSignature = errors.New("signature mismatch")
	// 登録されていないプロバイダ
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

// ベトナム時間（GMT+7）。VNPayの日時はこのタイムゾーンで組み立てる。
var vnTZ = time.FixedZone("ICT", 7*60*60)

// Options はアダプタ生成時に一度だけ渡す。呼び出し時に環境変数を読むことはしない。
type Options struct {
	// サンドボックス用。trueなら署名検証をスキップする
	SkipSignatureCheck bool
	// テストで時刻を固定するため
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Payable は利用者に渡す支払い先
type Payable struct {
	Provider model.PaymentProvider `json:"provider"`
	// VNPayはリダイレクトURL、SePayはQR画像URL
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Callback はプロバイダから届いた生の入力。
// リダイレクト戻りはParams、WebhookはBodyに入る。
type Callback struct {
	Params url.Values
	Body   []byte
}

// Result はプロバイダ固有の語彙を正規化した決済結果
type Result struct {
	Provider model.PaymentProvider

	// 構造化された注文番号（VNPayのvnp_TxnRef）。SePayでは空のことが多い
	OrderRef string
	// order_id / orderId / order_number などの候補フィールド
	RefFields map[string]string
	// 振込内容などの自由文
	Narration string

	Success       bool
	TransactionID string
	ResponseCode  string

	// 最小通貨単位。HasAmountがfalseなら不明
	Amount    int64
	HasAmount bool

	// 監査用に保存するJSON
	Raw []byte
}

// Gateway は決済プロバイダ1つ分の能力
type Gateway interface {
	Provider() model.PaymentProvider
	BuildPayable(order model.Order, clientIP string) (Payable, error)
	Verify(cb Callback) error
	ExtractResult(cb Callback) (Result, error)
}

// Registry は注文のプロバイダ値から実装を選ぶ
type Registry struct {
	gateways map[model.PaymentProvider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[model.PaymentProvider]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Provider()] = g
	}
	return &Registry{gateways: m}
}

func (r *Registry) For(provider model.PaymentProvider) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return g, nil
}

func validAbsoluteURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
