package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"coursemarket/internal/config"
	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	"coursemarket/internal/handler"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/testutil"
	"coursemarket/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKey      = "sepay-api-key"
	vnpSecret   = "VNPSECRET"
	jwtSecret   = "jwt-secret"
	frontendURL = "https://shop.example.com"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type server struct {
	e  *echo.Echo
	db *gorm.DB
}

func newServer(t *testing.T) *server {
	t.Helper()

	gdb := testutil.NewTestDB(t)
	clock := fixedClock{t: time.Date(2025, 12, 14, 10, 0, 0, 0, time.UTC)}
	log := zap.NewNop()

	vnp, err := gateway.NewVNPay(gateway.VNPayConfig{
		TmnCode:    "TMN",
		HashSecret: vnpSecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://api.example.com/payments/vnpay/return",
	}, gateway.Options{Now: clock.Now})
	require.NoError(t, err)
	sep, err := gateway.NewSePay(gateway.SePayConfig{AccountNumber: "1", BankCode: "MB", SecretKey: "s"}, gateway.Options{})
	require.NoError(t, err)
	registry := gateway.NewRegistry(vnp, sep)

	tx := infraRepo.NewTxManagerGorm(gdb)
	orders := infraRepo.NewOrderGormRepository(gdb)
	orderItems := infraRepo.NewOrderItemGormRepository(gdb)
	payments := infraRepo.NewPaymentGormRepository(gdb)
	carts := infraRepo.NewCartGormRepository(gdb)
	courses := infraRepo.NewCourseGormRepository(gdb)
	enrollUC := usecase.NewEnrollmentUsecase(infraRepo.NewEnrollmentGormRepository(gdb), orders, orderItems, nil, clock, log)

	checkoutUC := usecase.NewCheckoutUsecase(tx, carts, carts, courses, registry, enrollUC, clock, log)
	callbackUC := usecase.NewPaymentCallbackUsecase(tx, orders, orderItems, payments, carts, carts, registry, enrollUC, clock, usecase.UUIDGenerator(), log)

	cfg := config.Config{JWTSecret: jwtSecret}
	e := echo.New()
	handler.NewCheckoutHandler(checkoutUC).RegisterRoutes(e, cfg)
	handler.NewPaymentHandler(callbackUC, frontendURL+"/", apiKey).RegisterRoutes(e)

	return &server{e: e, db: gdb}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID, "role": "USER"}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

// HTTP経由でチェックアウトして注文番号を返す
func (s *server) checkout(t *testing.T, userID int64, provider string, prices ...int64) usecase.CheckoutOutput {
	t.Helper()
	testutil.SeedCart(t, s.db, userID, prices...)

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"provider":"`+provider+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", bearer(t, userID))
	rec := s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out usecase.CheckoutOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func webhookRequest(body string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/sepay/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func decodeWebhook(t *testing.T, rec *httptest.ResponseRecorder) handler.WebhookResponse {
	t.Helper()
	var res handler.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestCheckout_RequiresJWT(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"provider":"VNPAY"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestCheckout_EmptyCartIs400(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"provider":"VNPAY"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", bearer(t, 99))

	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"cart empty"}`, rec.Body.String())
}

func TestSePayWebhook_ResponseContract(t *testing.T) {
	s := newServer(t)
	out := s.checkout(t, 1, "SEPAY", 150000)
	body := `{"id":1,"content":"CK ` + strings.ReplaceAll(out.Order.OrderNumber, "-", "") + `","transferType":"in","transferAmount":150000}`

	// キーなし
	rec := s.do(webhookRequest(body, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 初回
	rec = s.do(webhookRequest(body, map[string]string{"Authorization": "Apikey " + apiKey}))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeWebhook(t, rec)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, out.Order.OrderNumber, res.OrderNumber)
	assert.Equal(t, string(model.OrderStatusPaid), res.Status)

	// 再送
	rec = s.do(webhookRequest(body, map[string]string{"X-Api-Key": apiKey}))
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeWebhook(t, rec)
	assert.True(t, res.Success)
	assert.True(t, res.AlreadyProcessed)

	assert.Equal(t, int64(1), testutil.Count(t, s.db, &model.Enrollment{}))
}

func TestSePayWebhook_ErrorStatuses(t *testing.T) {
	s := newServer(t)
	out := s.checkout(t, 1, "SEPAY", 1000)
	auth := map[string]string{"Authorization": "Bearer " + apiKey}

	rec := s.do(webhookRequest(`{"content":"no reference here","transferType":"in"}`, auth))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeWebhook(t, rec).Success)

	rec = s.do(webhookRequest(`{"content":"`+out.Order.OrderNumber+`","transferType":"in","signature":"deadbeef"}`, auth))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(webhookRequest(`not json`, auth))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var o model.Order
	require.NoError(t, s.db.Where("order_number = ?", out.Order.OrderNumber).First(&o).Error)
	assert.Equal(t, model.OrderStatusPending, o.Status)
}

func vnpayQuery(orderNumber string, amount int64, code string) url.Values {
	fields := map[string]string{
		"vnp_TxnRef":        orderNumber,
		"vnp_Amount":        strconv.FormatInt(amount*100, 10),
		"vnp_ResponseCode":  code,
		"vnp_TransactionNo": "777",
	}
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("vnp_SecureHash", gateway.SignHMACSHA512(vnpSecret, gateway.CanonicalQuery(fields)))
	return q
}

func TestVNPayReturn_RedirectsToFrontend(t *testing.T) {
	s := newServer(t)
	out := s.checkout(t, 1, "VNPAY", 50000)

	bad := vnpayQuery(out.Order.OrderNumber, 50000, "00")
	bad.Set("vnp_ResponseCode", "24")
	rec := s.do(httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+bad.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/checkout/result", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, "invalid_signature", loc.Query().Get("status"))

	good := vnpayQuery(out.Order.OrderNumber, 50000, "00")
	rec = s.do(httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+good.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.Equal(t, out.Order.OrderNumber, loc.Query().Get("order"))
	assert.Equal(t, "false", loc.Query().Get("already_processed"))

	// IPNが後から来ても処理済み
	rec = s.do(httptest.NewRequest(http.MethodGet, "/payments/vnpay/ipn?"+good.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"RspCode":"02","Message":"Order already confirmed"}`, rec.Body.String())
}

func TestVNPayReturn_UnknownOrder(t *testing.T) {
	s := newServer(t)
	q := vnpayQuery("ORD-20000101-001", 1000, "00")
	rec := s.do(httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "status=not_found")
}
