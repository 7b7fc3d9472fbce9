package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"coursemarket/internal/domain/model"

	"github.com/shopspring/decimal"
)

const (
	vnpHashField     = "vnp_SecureHash"
	vnpHashTypeField = "vnp_SecureHashType"
	vnpTimeLayout    = "20060102150405"

	// 成功を表すレスポンスコード
	VNPayCodeSuccess = "00"
)

var hundred = decimal.NewFromInt(100)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Version    string
	Locale     string
	OrderType  string
	// 支払い期限。0なら15分
	ExpireAfter time.Duration
}

// VNPay はリダイレクト署名型のプロバイダ
type VNPay struct {
	cfg  VNPayConfig
	opts Options
}

func NewVNPay(cfg VNPayConfig, opts Options) (*VNPay, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, fmt.Errorf("%w: vnpay tmn code is required", ErrConfiguration)
	}
	if cfg.HashSecret == "" {
		return nil, fmt.Errorf("%w: vnpay hash secret is required", ErrConfiguration)
	}
	if !validAbsoluteURL(cfg.PayURL) {
		return nil, fmt.Errorf("%w: invalid vnpay pay url %q", ErrConfiguration, cfg.PayURL)
	}
	if !validAbsoluteURL(cfg.ReturnURL) {
		return nil, fmt.Errorf("%w: invalid vnpay return url %q", ErrConfiguration, cfg.ReturnURL)
	}

	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &VNPay{cfg: cfg, opts: opts}, nil
}

func (g *VNPay) Provider() model.PaymentProvider { return model.ProviderVNPay }

// BuildPayable は署名付きの決済URLを作る。
// リモート側の検証とバイト単位で一致しないと弾かれるので、署名ベースは再エンコードしない。
func (g *VNPay) BuildPayable(order model.Order, clientIP string) (Payable, error) {
	if order.TotalAmount <= 0 {
		return Payable{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, order.TotalAmount)
	}
	if order.OrderNumber == "" {
		return Payable{}, fmt.Errorf("%w: order number is required", ErrValidation)
	}

	now := g.opts.now().In(vnTZ)
	expires := now.Add(g.cfg.ExpireAfter)

	params := map[string]string{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_CurrCode":   model.CurrencyVND,
		"vnp_TxnRef":     order.OrderNumber,
		"vnp_OrderInfo":  "Thanh toan don hang " + order.OrderNumber,
		"vnp_OrderType":  g.cfg.OrderType,
		"vnp_Amount":     decimal.NewFromInt(order.TotalAmount).Mul(hundred).StringFixed(0),
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     NormalizeIPv4(clientIP),
		"vnp_CreateDate": now.Format(vnpTimeLayout),
		"vnp_ExpireDate": expires.Format(vnpTimeLayout),
	}

	signBase := CanonicalQuery(params)
	hash := SignHMACSHA512(g.cfg.HashSecret, signBase)

	return Payable{
		Provider:  model.ProviderVNPay,
		URL:       g.cfg.PayURL + "?" + signBase + "&" + vnpHashField + "=" + hash,
		ExpiresAt: &expires,
	}, nil
}

// Verify は署名フィールドを除いて署名ベースを作り直し、ハッシュを比較する。不一致は必ず失敗。
func (g *VNPay) Verify(cb Callback) error {
	if g.opts.SkipSignatureCheck {
		return nil
	}

	got := strings.ToLower(strings.TrimSpace(cb.Params.Get(vnpHashField)))
	if got == "" {
		return fmt.Errorf("%w: missing %s", ErrSignature, vnpHashField)
	}

	want := SignHMACSHA512(g.cfg.HashSecret, CanonicalQuery(vnpSignedFields(cb.Params)))
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrSignature
	}
	return nil
}

func (g *VNPay) ExtractResult(cb Callback) (Result, error) {
	p := cb.Params
	ref := strings.TrimSpace(p.Get("vnp_TxnRef"))
	if ref == "" {
		return Result{}, fmt.Errorf("%w: missing vnp_TxnRef", ErrValidation)
	}

	code := p.Get("vnp_ResponseCode")
	txStatus := p.Get("vnp_TransactionStatus")

	res := Result{
		Provider:      model.ProviderVNPay,
		OrderRef:      ref,
		Narration:     p.Get("vnp_OrderInfo"),
		Success:       code == VNPayCodeSuccess && (txStatus == "" || txStatus == VNPayCodeSuccess),
		TransactionID: p.Get("vnp_TransactionNo"),
		ResponseCode:  code,
	}

	// vnp_Amount は100倍された整数
	if raw := p.Get("vnp_Amount"); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			res.Amount = d.Div(hundred).IntPart()
			res.HasAmount = true
		}
	}

	flat := make(map[string]string, len(p))
	for k := range p {
		flat[k] = p.Get(k)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return Result{}, err
	}
	res.Raw = raw

	return res, nil
}

// vnp_ で始まるフィールドのうち署名対象だけを取り出す
func vnpSignedFields(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k := range params {
		if !strings.HasPrefix(k, "vnp_") || k == vnpHashField || k == vnpHashTypeField {
			continue
		}
		out[k] = params.Get(k)
	}
	return out
}

// CanonicalQuery はエンコード後のキーで並べ、key=value を & でつないだ文字列を返す。
// キーも値も url.QueryEscape（空白は + ）。
func CanonicalQuery(fields map[string]string) string {
	type pair struct{ k, v string }

	pairs := make([]pair, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, pair{k: url.QueryEscape(k), v: url.QueryEscape(v)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

func SignHMACSHA512(secret string, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
