package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"
	"coursemarket/internal/orderref"
	repo "coursemarket/internal/repository"

	"go.uber.org/zap"
)

const strippedCandidateLimit = 10

// CallbackOutcome は1回のコールバック処理の結果
type CallbackOutcome struct {
	OrderNumber string            `json:"order_number"`
	Status      model.OrderStatus `json:"status"`
	// 既に確定済みで何も書かなかった
	AlreadyProcessed bool `json:"already_processed"`
	// 今回（または以前）の確定が支払い成功か
	Success bool `json:"success"`
}

// PaymentCallbackUsecase はリダイレクト戻り・Webhookを注文に反映する。
// 同じ通知が何度届いても結果は1回分になる。
type PaymentCallbackUsecase struct {
	tx          repo.TransactionManager
	orders      repo.OrderRepository
	orderItems  repo.OrderItemRepository
	payments    repo.PaymentRepository
	carts       repo.CartRepository
	cartItems   repo.CartItemRepository
	gateways    GatewayResolver
	enrollments *EnrollmentUsecase
	clock       Clock
	ids         IDGenerator
	log         *zap.Logger
}

func NewPaymentCallbackUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	payments repo.PaymentRepository,
	carts repo.CartRepository,
	cartItems repo.CartItemRepository,
	gateways GatewayResolver,
	enrollments *EnrollmentUsecase,
	clock Clock,
	ids IDGenerator,
	log *zap.Logger,
) *PaymentCallbackUsecase {
	return &PaymentCallbackUsecase{
		tx:          tx,
		orders:      orders,
		orderItems:  orderItems,
		payments:    payments,
		carts:       carts,
		cartItems:   cartItems,
		gateways:    gateways,
		enrollments: enrollments,
		clock:       clock,
		ids:         ids,
		log:         log,
	}
}

// HandleReturn はブラウザのリダイレクト戻り（VNPay）
func (u *PaymentCallbackUsecase) HandleReturn(ctx context.Context, provider model.PaymentProvider, cb gateway.Callback) (CallbackOutcome, error) {
	return u.Reconcile(ctx, provider, cb)
}

// HandleWebhook はサーバー間通知（SePay）
func (u *PaymentCallbackUsecase) HandleWebhook(ctx context.Context, provider model.PaymentProvider, cb gateway.Callback) (CallbackOutcome, error) {
	return u.Reconcile(ctx, provider, cb)
}

// VNPayIPNResponse はVNPayのIPNに返す形
type VNPayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleVNPayIPN は同じ照合をしてVNPayのIPN応答コードに変換する
func (u *PaymentCallbackUsecase) HandleVNPayIPN(ctx context.Context, cb gateway.Callback) VNPayIPNResponse {
	out, err := u.Reconcile(ctx, model.ProviderVNPay, cb)
	switch {
	case err == nil && out.AlreadyProcessed:
		return VNPayIPNResponse{RspCode: "02", Message: "Order already confirmed"}
	case err == nil:
		return VNPayIPNResponse{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, gateway.ErrSignature):
		return VNPayIPNResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, ErrLookup):
		return VNPayIPNResponse{RspCode: "01", Message: "Order not found"}
	default:
		return VNPayIPNResponse{RspCode: "99", Message: "Unknown error"}
	}
}

// Reconcile は 検証 → 注文特定 → 反映 の順に進める。
// 終端状態の注文には何も書かずに AlreadyProcessed を返す。
func (u *PaymentCallbackUsecase) Reconcile(ctx context.Context, provider model.PaymentProvider, cb gateway.Callback) (CallbackOutcome, error) {
	log := u.log.With(
		zap.String("correlation_id", u.ids.NewID()),
		zap.String("provider", string(provider)),
	)

	gw, err := u.gateways.For(provider)
	if err != nil {
		return CallbackOutcome{}, WrapHTTPError(http.StatusBadRequest, "invalid provider", ErrInvalidProvider)
	}

	if err := gw.Verify(cb); err != nil {
		log.Warn("callback rejected", zap.Error(err))
		return CallbackOutcome{}, classifyGatewayError(err)
	}

	res, err := gw.ExtractResult(cb)
	if err != nil {
		log.Warn("callback unreadable", zap.Error(err))
		return CallbackOutcome{}, classifyGatewayError(err)
	}

	order, err := u.resolveOrder(ctx, res)
	var ambiguous *AmbiguousRefError
	if errors.As(err, &ambiguous) {
		// 手動で突き合わせる
		log.Warn("order reference is ambiguous",
			zap.String("ref", ambiguous.Ref),
			zap.Strings("candidates", ambiguous.Candidates),
			zap.String("narration", res.Narration),
			zap.String("transaction_id", res.TransactionID),
		)
		return CallbackOutcome{}, WrapHTTPError(http.StatusNotFound, "order not found", err)
	}
	if errors.Is(err, ErrLookup) {
		log.Warn("order not resolved from callback",
			zap.String("order_ref", res.OrderRef),
			zap.Any("ref_fields", res.RefFields),
			zap.String("narration", res.Narration),
			zap.String("transaction_id", res.TransactionID),
		)
		return CallbackOutcome{}, WrapHTTPError(http.StatusNotFound, "order not found", ErrLookup)
	}
	if err != nil {
		return CallbackOutcome{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}
	log = log.With(zap.String("order_number", order.OrderNumber))

	// 冪等ガード
	if order.Status.IsTerminal() {
		log.Info("callback for settled order ignored", zap.String("status", string(order.Status)))
		return settledOutcome(order), nil
	}

	payment, err := u.payments.FindByOrderID(ctx, order.ID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Error("payment record missing")
		return CallbackOutcome{}, WrapHTTPError(http.StatusNotFound, "payment not found", ErrLookup)
	}
	if err != nil {
		return CallbackOutcome{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}

	// 選んだ決済方法と違う経路で払われた（VNPayの注文に振込など）。
	// 入金は事実なので反映し、決済記録のプロバイダは実際の方に合わせる。
	if order.Provider != provider {
		log.Warn("provider mismatch",
			zap.String("order_provider", string(order.Provider)),
			zap.String("callback_provider", string(provider)),
			zap.String("transaction_id", res.TransactionID),
		)
	}

	if res.HasAmount && res.Amount != order.TotalAmount {
		log.Warn("amount mismatch",
			zap.Int64("expected", order.TotalAmount),
			zap.Int64("reported", res.Amount),
		)
	}

	now := u.clock.Now()
	orderStatus := model.OrderStatusFailed
	update := repo.PaymentResultUpdate{
		Status:        model.PaymentStatusFailed,
		Provider:      provider,
		TransactionID: res.TransactionID,
		RawPayload:    res.Raw,
	}
	action := model.AuditActionPaymentFailed
	if res.Success {
		orderStatus = model.OrderStatusPaid
		update.Status = model.PaymentStatusPaid
		update.PaidAt = &now
		action = model.AuditActionPaymentConfirmed
	}

	applied := false
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Orders().TransitionFromPending(ctx, order.ID, orderStatus, update.PaidAt)
		if err != nil {
			return err
		}
		if !ok {
			// 別の配信が先に確定させた
			return nil
		}

		ok, err = r.Payments().ApplyResult(ctx, payment.ID, update)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payment %d is not pending while order %s was", payment.ID, order.OrderNumber)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  0,
			Action:       action,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   order.ID,
			BeforeJSON:   statusJSON(model.OrderStatusPending),
			AfterJSON:    statusJSON(orderStatus),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		log.Error("apply payment result failed", zap.Error(err))
		return CallbackOutcome{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}

	if !applied {
		latest, err := u.orders.FindByID(ctx, order.ID)
		if err != nil {
			return CallbackOutcome{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		log.Info("callback lost the race to another delivery", zap.String("status", string(latest.Status)))
		return settledOutcome(latest), nil
	}

	log.Info("payment result applied",
		zap.String("status", string(orderStatus)),
		zap.String("transaction_id", res.TransactionID),
		zap.String("response_code", res.ResponseCode),
	)

	order.Status = orderStatus
	if res.Success {
		order.CompletedAt = &now
		u.afterPaid(ctx, log, order)
	}

	return CallbackOutcome{
		OrderNumber: order.OrderNumber,
		Status:      orderStatus,
		Success:     res.Success,
	}, nil
}

// 確定後の後処理。失敗しても支払い結果は戻さない。
func (u *PaymentCallbackUsecase) afterPaid(ctx context.Context, log *zap.Logger, order model.Order) {
	items, err := u.orderItems.ListByOrderID(ctx, order.ID)
	if err != nil {
		// 明細が読めないとカートのどれを外すか決められないので、カートは触らない
		log.Error("load order items failed", zap.Error(err))
		u.enrollments.RequestRepair(ctx, EnrollmentRepairJob{OrderNumber: order.OrderNumber})
		return
	}
	u.enrollments.ProjectOrder(ctx, order, items)

	cart, err := u.carts.FindActiveByUserID(ctx, order.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return
	}
	if err == nil {
		err = u.cartItems.DeleteByCourseIDs(ctx, cart.ID, courseIDsOf(items))
	}
	if err != nil {
		log.Warn("remove paid courses from cart failed", zap.Error(err))
	}
}

// resolveOrder は 完全一致 → ハイフン無視の部分一致 → 日付ブロック の順で探す
func (u *PaymentCallbackUsecase) resolveOrder(ctx context.Context, res gateway.Result) (model.Order, error) {
	candidates := make([]string, 0, 2)
	if ref := strings.TrimSpace(res.OrderRef); ref != "" {
		candidates = append(candidates, ref)
	}
	if ref, ok := orderref.Extract(res.RefFields, res.Narration); ok {
		candidates = append(candidates, ref)
	}

	for _, c := range candidates {
		o, err := u.lookup(ctx, c)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, err
		}
	}

	// ORD が丸ごと落ちた振込内容
	// TODO: 旧形式の注文が残っていないと確認できたら、ハイフン無しの復元と合わせて外す
	if ref, ok := orderref.ExtractDateBlock(res.Narration); ok {
		o, err := u.lookup(ctx, ref)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, err
		}
	}

	return model.Order{}, ErrLookup
}

// lookup は完全一致、無ければハイフン無視の部分一致。部分一致は1件に絞れたときだけ採用する。
func (u *PaymentCallbackUsecase) lookup(ctx context.Context, orderNumber string) (model.Order, error) {
	o, err := u.orders.FindByOrderNumber(ctx, orderNumber)
	if err == nil || !errors.Is(err, repo.ErrNotFound) {
		return o, err
	}

	found, err := u.orders.ListByStrippedOrderNumber(ctx, orderref.Strip(orderNumber), strippedCandidateLimit)
	if err != nil {
		return model.Order{}, err
	}
	switch len(found) {
	case 0:
		return model.Order{}, repo.ErrNotFound
	case 1:
		return found[0], nil
	}

	numbers := make([]string, 0, len(found))
	for _, c := range found {
		numbers = append(numbers, c.OrderNumber)
	}
	return model.Order{}, &AmbiguousRefError{Ref: orderNumber, Candidates: numbers}
}

func settledOutcome(o model.Order) CallbackOutcome {
	return CallbackOutcome{
		OrderNumber:      o.OrderNumber,
		Status:           o.Status,
		AlreadyProcessed: true,
		Success:          o.Status == model.OrderStatusPaid,
	}
}

func classifyGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrSignature):
		return WrapHTTPError(http.StatusBadRequest, "invalid signature", err)
	case errors.Is(err, gateway.ErrValidation):
		return WrapHTTPError(http.StatusBadRequest, "invalid callback", err)
	default:
		return WrapHTTPError(http.StatusInternalServerError, "payment configuration error", err)
	}
}
