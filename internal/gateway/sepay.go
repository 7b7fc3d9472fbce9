package gateway

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/orderref"

	"github.com/shopspring/decimal"
)

const (
	sepaySignatureField = "signature"
	defaultSePayQRURL   = "https://qr.sepay.vn/img"
)

// 注文番号が入っている可能性のある構造化フィールド（優先順）
var sepayRefFields = orderref.RefFieldKeys

type SePayConfig struct {
	AccountNumber string
	BankCode      string
	QRBaseURL     string
	// Webhookに signature が付いているときだけ使う
	SecretKey string
	Template  string
}

// SePay は銀行振込（VietQR）型のプロバイダ。
// QRを出すだけで戻りのチャネルはなく、完了はWebhookで後から届く。
type SePay struct {
	cfg  SePayConfig
	opts Options
}

func NewSePay(cfg SePayConfig, opts Options) (*SePay, error) {
	if strings.TrimSpace(cfg.AccountNumber) == "" {
		return nil, fmt.Errorf("%w: sepay account number is required", ErrConfiguration)
	}
	if strings.TrimSpace(cfg.BankCode) == "" {
		return nil, fmt.Errorf("%w: sepay bank code is required", ErrConfiguration)
	}
	if cfg.QRBaseURL == "" {
		cfg.QRBaseURL = defaultSePayQRURL
	}
	if !validAbsoluteURL(cfg.QRBaseURL) {
		return nil, fmt.Errorf("%w: invalid sepay qr url %q", ErrConfiguration, cfg.QRBaseURL)
	}
	if cfg.Template == "" {
		cfg.Template = "compact"
	}
	return &SePay{cfg: cfg, opts: opts}, nil
}

func (g *SePay) Provider() model.PaymentProvider { return model.ProviderSePay }

// BuildPayable はQR画像のURLを返す。振込内容に注文番号を入れてもらう。
func (g *SePay) BuildPayable(order model.Order, _ string) (Payable, error) {
	if order.TotalAmount <= 0 {
		return Payable{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, order.TotalAmount)
	}
	if order.OrderNumber == "" {
		return Payable{}, fmt.Errorf("%w: order number is required", ErrValidation)
	}

	q := url.Values{}
	q.Set("acc", g.cfg.AccountNumber)
	q.Set("bank", g.cfg.BankCode)
	q.Set("amount", strconv.FormatInt(order.TotalAmount, 10))
	q.Set("des", order.OrderNumber)
	q.Set("template", g.cfg.Template)

	return Payable{
		Provider: model.ProviderSePay,
		URL:      g.cfg.QRBaseURL + "?" + q.Encode(),
	}, nil
}

// Verify は signature があるときだけ検証する。
// 無い場合はミドルウェアのAPIキー確認を信頼してスキップする（意図的な信頼の格下げ）。
func (g *SePay) Verify(cb Callback) error {
	fields, err := decodeFlatJSON(cb.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if g.opts.SkipSignatureCheck {
		return nil
	}

	got := strings.ToLower(strings.TrimSpace(fields[sepaySignatureField]))
	if got == "" {
		return nil
	}
	if g.cfg.SecretKey == "" {
		return fmt.Errorf("%w: sepay secret key is required to verify signed webhooks", ErrConfiguration)
	}

	want := SignMD5(fields, g.cfg.SecretKey)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrSignature
	}
	return nil
}

func (g *SePay) ExtractResult(cb Callback) (Result, error) {
	fields, err := decodeFlatJSON(cb.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	res := Result{
		Provider:  model.ProviderSePay,
		RefFields: map[string]string{},
		Raw:       cb.Body,
	}

	for _, k := range sepayRefFields {
		if v := strings.TrimSpace(fields[k]); v != "" {
			res.RefFields[k] = v
		}
	}

	// content を先に、description（SMS全文など）を後ろに
	narration := []string{}
	for _, k := range []string{"content", "description"} {
		if v := strings.TrimSpace(fields[k]); v != "" {
			narration = append(narration, v)
		}
	}
	res.Narration = strings.Join(narration, " ")

	res.TransactionID = fields["referenceCode"]
	if res.TransactionID == "" {
		res.TransactionID = fields["id"]
	}

	if raw := fields["transferAmount"]; raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			res.Amount = d.IntPart()
			res.HasAmount = true
		}
	}

	// status があればそれを優先、なければ入出金の向き（in = 入金 = 成功）
	if status := strings.ToLower(strings.TrimSpace(fields["status"])); status != "" {
		res.ResponseCode = status
		res.Success = status == "success" || status == "paid" || status == "completed"
	} else {
		res.ResponseCode = strings.ToLower(fields["transferType"])
		res.Success = res.ResponseCode == "in"
	}

	return res, nil
}

// SignMD5 は signature 以外をキー順に並べ、値をエンコードして
// key=value&...&secret_key=<secret> のMD5を16進で返す。
func SignMD5(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == sepaySignatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(fields[k]))
	}
	b.WriteString("&secret_key=")
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// decodeFlatJSON はトップレベルのフィールドを文字列にする。数値は元の表記のまま。
func decodeFlatJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
