package usecase_test

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/testutil"
	"coursemarket/internal/usecase"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testVNPaySecret = "TESTSECRET"

var testNow = time.Date(2025, 12, 14, 10, 0, 0, 0, time.FixedZone("ICT", 7*60*60))

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "corr-" + strconv.Itoa(g.n)
}

// 作り直し依頼を記録するだけのキュー
type recordingQueue struct {
	mu   sync.Mutex
	jobs []usecase.EnrollmentRepairJob
}

func (q *recordingQueue) Publish(_ context.Context, job usecase.EnrollmentRepairJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// GatewayMock は外部決済が呼ばれないことの確認用
type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) Provider() model.PaymentProvider {
	args := m.Called()
	return args.Get(0).(model.PaymentProvider)
}

func (m *GatewayMock) BuildPayable(order model.Order, clientIP string) (gateway.Payable, error) {
	args := m.Called(order, clientIP)
	return args.Get(0).(gateway.Payable), args.Error(1)
}

func (m *GatewayMock) Verify(cb gateway.Callback) error {
	args := m.Called(cb)
	return args.Error(0)
}

func (m *GatewayMock) ExtractResult(cb gateway.Callback) (gateway.Result, error) {
	args := m.Called(cb)
	return args.Get(0).(gateway.Result), args.Error(1)
}

type testEnv struct {
	db        *gorm.DB
	logs      *observer.ObservedLogs
	queue     *recordingQueue
	vnpay     *gateway.VNPay
	sepay     *gateway.SePay
	checkout  *usecase.CheckoutUsecase
	callbacks *usecase.PaymentCallbackUsecase
	enroll    *usecase.EnrollmentUsecase
	orders    *usecase.OrderUsecase
	carts     *usecase.CartUsecase
}

func newTestEnv(t *testing.T, extra ...gateway.Gateway) *testEnv {
	t.Helper()

	gdb := testutil.NewTestDB(t)
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	clock := fixedClock{t: testNow}

	vnp, err := gateway.NewVNPay(gateway.VNPayConfig{
		TmnCode:    "TESTTMN1",
		HashSecret: testVNPaySecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://api.example.com/payments/vnpay/return",
	}, gateway.Options{Now: clock.Now})
	require.NoError(t, err)

	sep, err := gateway.NewSePay(gateway.SePayConfig{
		AccountNumber: "0071000888888",
		BankCode:      "MBBank",
		SecretKey:     "sepay-secret",
	}, gateway.Options{})
	require.NoError(t, err)

	gateways := []gateway.Gateway{vnp, sep}
	if len(extra) > 0 {
		gateways = extra
	}
	registry := gateway.NewRegistry(gateways...)

	tx := infraRepo.NewTxManagerGorm(gdb)
	orders := infraRepo.NewOrderGormRepository(gdb)
	orderItems := infraRepo.NewOrderItemGormRepository(gdb)
	payments := infraRepo.NewPaymentGormRepository(gdb)
	carts := infraRepo.NewCartGormRepository(gdb)
	courses := infraRepo.NewCourseGormRepository(gdb)
	enrollments := infraRepo.NewEnrollmentGormRepository(gdb)

	queue := &recordingQueue{}
	enrollUC := usecase.NewEnrollmentUsecase(enrollments, orders, orderItems, queue, clock, log)

	return &testEnv{
		db:        gdb,
		logs:      logs,
		queue:     queue,
		vnpay:     vnp,
		sepay:     sep,
		checkout:  usecase.NewCheckoutUsecase(tx, carts, carts, courses, registry, enrollUC, clock, log),
		callbacks: usecase.NewPaymentCallbackUsecase(tx, orders, orderItems, payments, carts, carts, registry, enrollUC, clock, &seqIDs{}, log),
		enroll:    enrollUC,
		orders:    usecase.NewOrderUsecase(tx),
		carts:     usecase.NewCartUsecase(carts, carts, courses),
	}
}

func (e *testEnv) loadOrder(t *testing.T, orderNumber string) (model.Order, model.Payment) {
	t.Helper()
	var o model.Order
	require.NoError(t, e.db.Where("order_number = ?", orderNumber).First(&o).Error)
	var p model.Payment
	require.NoError(t, e.db.Where("order_id = ?", o.ID).First(&p).Error)
	return o, p
}

func (e *testEnv) count(t *testing.T, m interface{}) int64 {
	return testutil.Count(t, e.db, m)
}

// vnpayReturn はVNPayから戻ってくるクエリを署名付きで作る
func vnpayReturn(orderNumber string, amount int64, code string) url.Values {
	fields := map[string]string{
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TxnRef":            orderNumber,
		"vnp_Amount":            strconv.FormatInt(amount*100, 10),
		"vnp_OrderInfo":         "Thanh toan don hang " + orderNumber,
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "14226112",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20251214101010",
	}
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("vnp_SecureHash", gateway.SignHMACSHA512(testVNPaySecret, gateway.CanonicalQuery(fields)))
	return q
}

func vnpayCallback(orderNumber string, amount int64, code string) gateway.Callback {
	return gateway.Callback{Params: vnpayReturn(orderNumber, amount, code)}
}
