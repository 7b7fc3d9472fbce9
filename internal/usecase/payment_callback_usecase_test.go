package usecase_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	"coursemarket/internal/orderref"
	"coursemarket/internal/testutil"
	"coursemarket/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func checkoutWith(t *testing.T, env *testEnv, userID int64, provider string, prices ...int64) usecase.CheckoutOutput {
	t.Helper()
	testutil.SeedCart(t, env.db, userID, prices...)
	out, err := env.checkout.Checkout(context.Background(), userID, usecase.CheckoutInput{Provider: provider, ClientIP: "1.2.3.4"})
	require.NoError(t, err)
	return out
}

func sepayWebhook(t *testing.T, fields map[string]interface{}) gateway.Callback {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return gateway.Callback{Body: body}
}

func TestReconcile_VNPaySuccessThenReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out := checkoutWith(t, env, 1, "VNPAY", 100000, 50000)
	number := out.Order.OrderNumber

	first, err := env.callbacks.HandleReturn(ctx, model.ProviderVNPay, vnpayCallback(number, 150000, "00"))
	require.NoError(t, err)
	assert.Equal(t, usecase.CallbackOutcome{OrderNumber: number, Status: model.OrderStatusPaid, Success: true}, first)

	o, p := env.loadOrder(t, number)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.NotNil(t, o.CompletedAt)
	assert.Equal(t, model.PaymentStatusPaid, p.Status)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "14226112", *p.TransactionID)
	assert.NotNil(t, p.PaidAt)
	assert.Contains(t, string(p.RawPayload), number)

	assert.Equal(t, int64(2), env.count(t, &model.Enrollment{}))
	assert.Equal(t, int64(0), env.count(t, &model.CartItem{}))
	assert.Equal(t, int64(1), env.count(t, &model.AuditLog{}))

	// 同じ通知がもう一度（IPNとリダイレクトの両方など）
	second, err := env.callbacks.HandleReturn(ctx, model.ProviderVNPay, vnpayCallback(number, 150000, "00"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.True(t, second.Success)
	assert.Equal(t, model.OrderStatusPaid, second.Status)

	assert.Equal(t, int64(2), env.count(t, &model.Enrollment{}))
	assert.Equal(t, int64(1), env.count(t, &model.AuditLog{}))
}

func TestReconcile_FailureCodeMarksFailedWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out := checkoutWith(t, env, 1, "VNPAY", 100000)
	number := out.Order.OrderNumber

	res, err := env.callbacks.HandleReturn(ctx, model.ProviderVNPay, vnpayCallback(number, 100000, "24"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, model.OrderStatusFailed, res.Status)

	o, p := env.loadOrder(t, number)
	assert.Equal(t, model.OrderStatusFailed, o.Status)
	assert.Nil(t, o.CompletedAt)
	assert.Equal(t, model.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.PaidAt)
	assert.Equal(t, int64(0), env.count(t, &model.Enrollment{}))
	// 失敗時はカートを残す
	assert.Equal(t, int64(1), env.count(t, &model.CartItem{}))

	// FAILEDは終端。後から成功が来ても変えない
	late, err := env.callbacks.HandleReturn(ctx, model.ProviderVNPay, vnpayCallback(number, 100000, "00"))
	require.NoError(t, err)
	assert.True(t, late.AlreadyProcessed)
	assert.False(t, late.Success)
	assert.Equal(t, model.OrderStatusFailed, late.Status)
	assert.Equal(t, int64(0), env.count(t, &model.Enrollment{}))
}

func TestReconcile_BadSignatureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "VNPAY", 100000)

	cb := vnpayCallback(out.Order.OrderNumber, 100000, "00")
	cb.Params.Set("vnp_Amount", "1")

	_, err := env.callbacks.HandleReturn(context.Background(), model.ProviderVNPay, cb)
	assert.ErrorIs(t, err, gateway.ErrSignature)
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)

	o, p := env.loadOrder(t, out.Order.OrderNumber)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(0), env.count(t, &model.AuditLog{}))
}

func TestReconcile_SePayNarrationWithoutHyphens(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "SEPAY", 150000)
	number := out.Order.OrderNumber

	cb := sepayWebhook(t, map[string]interface{}{
		"id":             92704,
		"gateway":        "MBBank",
		"content":        "QAFXEL0318 SEPAY8655 1 " + orderref.Strip(number),
		"transferType":   "in",
		"transferAmount": 150000,
		"referenceCode":  "FT25348123",
	})
	res, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, cb)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, number, res.OrderNumber)

	_, p := env.loadOrder(t, number)
	assert.Equal(t, model.PaymentStatusPaid, p.Status)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "FT25348123", *p.TransactionID)
	assert.Equal(t, int64(1), env.count(t, &model.Enrollment{}))
}

func TestReconcile_SePayStructuredFieldAndDateBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := checkoutWith(t, env, 1, "SEPAY", 1000)
	b := checkoutWith(t, env, 2, "SEPAY", 2000)

	res, err := env.callbacks.HandleWebhook(ctx, model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"orderId":        a.Order.OrderNumber,
		"content":        "unrelated text",
		"transferType":   "in",
		"transferAmount": 1000,
	}))
	require.NoError(t, err)
	assert.Equal(t, a.Order.OrderNumber, res.OrderNumber)

	// プレフィックスが丸ごと落ちた形
	block := strings.TrimPrefix(b.Order.OrderNumber, "ORD-")
	res, err = env.callbacks.HandleWebhook(ctx, model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"content":        "CK " + block + " hoc phi",
		"transferType":   "in",
		"transferAmount": 2000,
	}))
	require.NoError(t, err)
	assert.Equal(t, b.Order.OrderNumber, res.OrderNumber)
	assert.True(t, res.Success)
}

func TestReconcile_AmountMismatchWarnsButApplies(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "SEPAY", 150000)

	res, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"content":        out.Order.OrderNumber,
		"transferType":   "in",
		"transferAmount": 149000,
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.OrderStatusPaid, res.Status)

	warns := env.logs.FilterMessage("amount mismatch").FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	fields := warns[0].ContextMap()
	assert.Equal(t, int64(150000), fields["expected"])
	assert.Equal(t, int64(149000), fields["reported"])
	assert.Equal(t, out.Order.OrderNumber, fields["order_number"])
}

func TestReconcile_UnrecognizedNarrationIsLookupError(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "SEPAY", 150000)

	_, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"content":        "chuyen tien hoc phi thang 12",
		"transferType":   "in",
		"transferAmount": 150000,
	}))
	assert.ErrorIs(t, err, usecase.ErrLookup)
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 404, he.Status)

	o, p := env.loadOrder(t, out.Order.OrderNumber)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(0), env.count(t, &model.AuditLog{}))
	assert.Equal(t, int64(0), env.count(t, &model.Enrollment{}))

	logged := env.logs.FilterMessage("order not resolved from callback").All()
	require.Len(t, logged, 1)
	assert.Equal(t, "chuyen tien hoc phi thang 12", logged[0].ContextMap()["narration"])
}

func TestReconcile_OutgoingTransferIsFailure(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "SEPAY", 5000)

	res, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"content":        out.Order.OrderNumber,
		"transferType":   "out",
		"transferAmount": 5000,
	}))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, model.OrderStatusFailed, res.Status)
}

func TestHandleVNPayIPN_ResponseCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out := checkoutWith(t, env, 1, "VNPAY", 100000)
	number := out.Order.OrderNumber

	assert.Equal(t, "00", env.callbacks.HandleVNPayIPN(ctx, vnpayCallback(number, 100000, "00")).RspCode)
	assert.Equal(t, "02", env.callbacks.HandleVNPayIPN(ctx, vnpayCallback(number, 100000, "00")).RspCode)
	assert.Equal(t, "01", env.callbacks.HandleVNPayIPN(ctx, vnpayCallback("ORD-19990101-001", 100000, "00")).RspCode)

	bad := vnpayCallback(number, 100000, "00")
	bad.Params.Set("vnp_SecureHash", "00")
	assert.Equal(t, "97", env.callbacks.HandleVNPayIPN(ctx, bad).RspCode)
}

func TestReconcile_PaidKeepsCoursesAddedAfterCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out := checkoutWith(t, env, 1, "VNPAY", 1000)

	// 決済待ちの間に別の講座をカートへ
	later := model.Course{Title: "later", Price: 3000, IsPublished: true}
	require.NoError(t, env.db.Create(&later).Error)
	_, err := env.carts.AddToCart(ctx, 1, usecase.AddCartInput{CourseID: later.ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), env.count(t, &model.CartItem{}))

	res, err := env.callbacks.HandleReturn(ctx, model.ProviderVNPay, vnpayCallback(out.Order.OrderNumber, 1000, "00"))
	require.NoError(t, err)
	require.True(t, res.Success)

	var left []model.CartItem
	require.NoError(t, env.db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, later.ID, left[0].CourseID)
}

// seedPendingOrder はチェックアウトを通さずに決済待ちの注文を作る
func seedPendingOrder(t *testing.T, env *testEnv, number string, userID int64) {
	t.Helper()
	o := model.Order{
		OrderNumber: number,
		UserID:      userID,
		TotalAmount: 1000,
		Currency:    model.CurrencyVND,
		Status:      model.OrderStatusPending,
		Provider:    model.ProviderSePay,
	}
	require.NoError(t, env.db.Create(&o).Error)
	p := model.Payment{
		OrderID:  o.ID,
		Provider: model.ProviderSePay,
		Amount:   1000,
		Currency: model.CurrencyVND,
		Status:   model.PaymentStatusPending,
	}
	require.NoError(t, env.db.Create(&p).Error)
}

func TestReconcile_TruncatedReferenceMatchingSeveralOrders(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		ambiguous bool
	}{
		{name: "hyphenated but cut short", content: "QAFXEL0318 ORD-20251214-26", ambiguous: true},
		{name: "hyphen free and cut short", content: "QAFXEL0318 ORD2025121426"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			seedPendingOrder(t, env, "ORD-20251214-263", 1)
			seedPendingOrder(t, env, "ORD-20251214-269", 2)

			_, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
				"content":        tt.content,
				"transferType":   "in",
				"transferAmount": 1000,
				"referenceCode":  "FT25348999",
			}))
			assert.ErrorIs(t, err, usecase.ErrLookup)
			he, ok := usecase.AsHTTPError(err)
			require.True(t, ok)
			assert.Equal(t, 404, he.Status)

			for _, n := range []string{"ORD-20251214-263", "ORD-20251214-269"} {
				o, p := env.loadOrder(t, n)
				assert.Equal(t, model.OrderStatusPending, o.Status)
				assert.Equal(t, model.PaymentStatusPending, p.Status)
			}
			assert.Equal(t, int64(0), env.count(t, &model.AuditLog{}))
			assert.Equal(t, int64(0), env.count(t, &model.Enrollment{}))

			warns := env.logs.FilterMessage("order reference is ambiguous").All()
			if !tt.ambiguous {
				assert.Empty(t, warns)
				return
			}
			require.Len(t, warns, 1)
			fields := warns[0].ContextMap()
			assert.Equal(t, "ORD-20251214-26", fields["ref"])
			assert.Equal(t, []interface{}{"ORD-20251214-263", "ORD-20251214-269"}, fields["candidates"])
			assert.Equal(t, "FT25348999", fields["transaction_id"])
		})
	}
}

func TestReconcile_PaidThroughOtherProviderIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	out := checkoutWith(t, env, 1, "VNPAY", 150000)
	number := out.Order.OrderNumber

	// VNPayで作った注文に銀行振込で入金された
	res, err := env.callbacks.HandleWebhook(context.Background(), model.ProviderSePay, sepayWebhook(t, map[string]interface{}{
		"content":        number,
		"transferType":   "in",
		"transferAmount": 150000,
		"referenceCode":  "FT25348777",
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)

	o, p := env.loadOrder(t, number)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, model.PaymentStatusPaid, p.Status)
	assert.Equal(t, model.ProviderSePay, p.Provider)

	warns := env.logs.FilterMessage("provider mismatch").FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	fields := warns[0].ContextMap()
	assert.Equal(t, "VNPAY", fields["order_provider"])
	assert.Equal(t, "SEPAY", fields["callback_provider"])
}
