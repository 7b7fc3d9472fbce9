package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	"coursemarket/internal/orderref"
	repo "coursemarket/internal/repository"

	"go.uber.org/zap"
)

// 注文番号の衝突時に作り直す回数
const orderNumberAttempts = 5

var errOrderNumberTaken = errors.New("order number taken")

type CheckoutUsecase struct {
	tx          repo.TransactionManager
	carts       repo.CartRepository
	cartItems   repo.CartItemRepository
	courses     repo.CourseRepository
	gateways    GatewayResolver
	enrollments *EnrollmentUsecase
	clock       Clock
	log         *zap.Logger
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	carts repo.CartRepository,
	cartItems repo.CartItemRepository,
	courses repo.CourseRepository,
	gateways GatewayResolver,
	enrollments *EnrollmentUsecase,
	clock Clock,
	log *zap.Logger,
) *CheckoutUsecase {
	return &CheckoutUsecase{
		tx:          tx,
		carts:       carts,
		cartItems:   cartItems,
		courses:     courses,
		gateways:    gateways,
		enrollments: enrollments,
		clock:       clock,
		log:         log,
	}
}

type CheckoutInput struct {
	Provider string
	ClientIP string
}

type CheckoutOutput struct {
	Order OrderOutput `json:"order"`
	// VNPayのリダイレクト先
	PaymentURL string `json:"payment_url,omitempty"`
	// SePayのQR画像
	QRURL     string     `json:"qr_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsFree    bool       `json:"is_free"`
}

// Checkout はACTIVEカートから注文と決済記録を作る。
// 0円ならその場でPAIDにして受講登録まで済ませ、外部決済は呼ばない。
func (u *CheckoutUsecase) Checkout(ctx context.Context, userID int64, in CheckoutInput) (CheckoutOutput, error) {
	if userID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	provider, err := parseProvider(in.Provider)
	if err != nil {
		return CheckoutOutput{}, err
	}

	cart, err := u.carts.FindActiveByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return CheckoutOutput{}, WrapHTTPError(http.StatusBadRequest, "cart empty", ErrCartEmpty)
	}
	if err != nil {
		return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}
	cartItems, err := u.cartItems.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}
	if len(cartItems) == 0 {
		return CheckoutOutput{}, WrapHTTPError(http.StatusBadRequest, "cart empty", ErrCartEmpty)
	}

	// スナップショット
	lines := make([]model.OrderItem, 0, len(cartItems))
	var total int64 = 0
	for _, ci := range cartItems {
		c, err := u.courses.FindByID(ctx, ci.CourseID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && !c.IsPublished) {
			return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "course not available")
		}
		if err != nil {
			return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		lines = append(lines, model.OrderItem{
			CourseID:            ci.CourseID,
			CourseTitleSnapshot: c.Title,
			UnitPriceSnapshot:   ci.UnitPriceSnapshot,
		})
		total += ci.UnitPriceSnapshot
	}

	if total == 0 {
		return u.checkoutFree(ctx, userID, cart.ID, lines)
	}

	// 注文を作る前に、使えるプロバイダか確認する
	gw, err := u.gateways.For(provider)
	if err != nil {
		return CheckoutOutput{}, WrapHTTPError(http.StatusBadRequest, "invalid provider", ErrInvalidProvider)
	}

	now := u.clock.Now()
	order, err := u.createOrder(ctx, model.Order{
		UserID:      userID,
		TotalAmount: total,
		Currency:    model.CurrencyVND,
		Status:      model.OrderStatusPending,
		Provider:    provider,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, lines, model.Payment{
		Provider: provider,
		Amount:   total,
		Currency: model.CurrencyVND,
		Status:   model.PaymentStatusPending,
	}, nil)
	if err != nil {
		return CheckoutOutput{}, err
	}

	u.log.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID),
		zap.String("provider", string(provider)),
		zap.Int64("total", total),
	)

	out := CheckoutOutput{Order: toOrderOutput(order, lines)}
	if err := u.attachPayable(&out, gw, order, in.ClientIP); err != nil {
		return CheckoutOutput{}, err
	}
	return out, nil
}

// PayableFor は自分のPENDING注文の支払いリンクを作り直す（ブラウザを閉じた、QRを見失った等）。
func (u *CheckoutUsecase) PayableFor(ctx context.Context, userID int64, orderNumber string, clientIP string) (CheckoutOutput, error) {
	if userID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}

	var (
		order model.Order
		items []model.OrderItem
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByOrderNumber(ctx, orderNumber)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		order = o

		items, err = r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		return nil
	})
	if err != nil {
		return CheckoutOutput{}, err
	}

	if order.Status != model.OrderStatusPending {
		return CheckoutOutput{}, NewHTTPError(http.StatusConflict, "order is not pending")
	}

	gw, err := u.gateways.For(order.Provider)
	if err != nil {
		return CheckoutOutput{}, WrapHTTPError(http.StatusBadRequest, "invalid provider", ErrInvalidProvider)
	}

	out := CheckoutOutput{Order: toOrderOutput(order, items)}
	if err := u.attachPayable(&out, gw, order, clientIP); err != nil {
		return CheckoutOutput{}, err
	}
	return out, nil
}

func (u *CheckoutUsecase) checkoutFree(ctx context.Context, userID int64, cartID int64, lines []model.OrderItem) (CheckoutOutput, error) {
	now := u.clock.Now()

	order, err := u.createOrder(ctx, model.Order{
		UserID:      userID,
		TotalAmount: 0,
		Currency:    model.CurrencyVND,
		Status:      model.OrderStatusPaid,
		Provider:    model.ProviderFree,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, lines, model.Payment{
		Provider: model.ProviderFree,
		Amount:   0,
		Currency: model.CurrencyVND,
		Status:   model.PaymentStatusPaid,
		PaidAt:   &now,
	}, &model.AuditLog{
		ActorUserID:  userID,
		Action:       model.AuditActionCheckoutFree,
		ResourceType: model.AuditResourceOrder,
		BeforeJSON:   "{}",
		AfterJSON:    statusJSON(model.OrderStatusPaid),
		CreatedAt:    now,
	})
	if err != nil {
		return CheckoutOutput{}, err
	}

	u.log.Info("free order completed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID),
		zap.Int("lines", len(lines)),
	)

	// 確定後に受講登録とカートの片付け
	u.enrollments.ProjectOrder(ctx, order, lines)
	if err := u.cartItems.DeleteByCourseIDs(ctx, cartID, courseIDsOf(lines)); err != nil {
		u.log.Warn("clear cart failed", zap.Int64("cart_id", cartID), zap.Error(err))
	}

	return CheckoutOutput{Order: toOrderOutput(order, lines), IsFree: true}, nil
}

// createOrder は注文・明細・決済記録（と監査ログ）を1つのトランザクションで作る。
// 注文番号が衝突したらトランザクションごとやり直す。
func (u *CheckoutUsecase) createOrder(ctx context.Context, order model.Order, lines []model.OrderItem, payment model.Payment, audit *model.AuditLog) (model.Order, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		candidate := order
		candidate.OrderNumber = orderref.NewNumber(u.clock.Now())

		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			exists, err := r.Orders().ExistsByOrderNumber(ctx, candidate.OrderNumber)
			if err != nil {
				return err
			}
			if exists {
				return errOrderNumberTaken
			}

			id, err := r.Orders().Create(ctx, candidate)
			if errors.Is(err, repo.ErrDuplicate) {
				return errOrderNumberTaken
			}
			if err != nil {
				return err
			}
			candidate.ID = id

			for i := range lines {
				lines[i].OrderID = id
				if err := r.OrderItems().Create(ctx, lines[i]); err != nil {
					return err
				}
			}

			p := payment
			p.OrderID = id
			if _, err := r.Payments().Create(ctx, p); err != nil {
				return err
			}

			if audit != nil {
				a := *audit
				a.ResourceID = id
				if err := r.AuditLogs().Create(ctx, a); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, errOrderNumberTaken) {
			u.log.Debug("order number collision", zap.String("order_number", candidate.OrderNumber))
			continue
		}
		if err != nil {
			return model.Order{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		return candidate, nil
	}
	return model.Order{}, NewHTTPError(http.StatusServiceUnavailable, "could not allocate order number")
}

func (u *CheckoutUsecase) attachPayable(out *CheckoutOutput, gw gateway.Gateway, order model.Order, clientIP string) error {
	p, err := gw.BuildPayable(order, clientIP)
	if err != nil {
		u.log.Error("build payable failed",
			zap.String("order_number", order.OrderNumber),
			zap.String("provider", string(order.Provider)),
			zap.Error(err),
		)
		return WrapHTTPError(http.StatusBadGateway, "payment provider unavailable", err)
	}

	switch order.Provider {
	case model.ProviderSePay:
		out.QRURL = p.URL
	default:
		out.PaymentURL = p.URL
	}
	out.ExpiresAt = p.ExpiresAt
	return nil
}

func parseProvider(raw string) (model.PaymentProvider, error) {
	p := model.PaymentProvider(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case model.ProviderVNPay, model.ProviderSePay:
		return p, nil
	}
	return "", WrapHTTPError(http.StatusBadRequest, "invalid provider", ErrInvalidProvider)
}

func statusJSON(s model.OrderStatus) string {
	b, _ := json.Marshal(map[string]string{"status": string(s)})
	return string(b)
}

func courseIDsOf(lines []model.OrderItem) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.CourseID)
	}
	return ids
}
