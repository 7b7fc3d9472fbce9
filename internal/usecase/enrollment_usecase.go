package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"coursemarket/internal/domain/model"
	repo "coursemarket/internal/repository"

	"go.uber.org/zap"
)

// EnrollmentRepairJob は受講登録の作り直し依頼（キューに積む内容）
type EnrollmentRepairJob struct {
	OrderNumber string  `json:"order_number"`
	CourseIDs   []int64 `json:"course_ids,omitempty"`
}

// EnrollmentRepairQueue は作り直し依頼の送り先（RabbitMQ）。無ければnil。
type EnrollmentRepairQueue interface {
	Publish(ctx context.Context, job EnrollmentRepairJob) error
}

// ProjectionResult は1注文分の受講登録の結果
type ProjectionResult struct {
	Created int     `json:"created"`
	Existed int     `json:"existed"`
	Failed  []int64 `json:"failed,omitempty"`
}

// EnrollmentUsecase はPAIDの注文明細から受講登録を作る。
// 支払いのトランザクションとは別で、確定後に呼ぶ。
type EnrollmentUsecase struct {
	enrollments repo.EnrollmentRepository
	orders      repo.OrderRepository
	orderItems  repo.OrderItemRepository
	queue       EnrollmentRepairQueue
	clock       Clock
	log         *zap.Logger
}

func NewEnrollmentUsecase(
	enrollments repo.EnrollmentRepository,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	queue EnrollmentRepairQueue,
	clock Clock,
	log *zap.Logger,
) *EnrollmentUsecase {
	return &EnrollmentUsecase{
		enrollments: enrollments,
		orders:      orders,
		orderItems:  orderItems,
		queue:       queue,
		clock:       clock,
		log:         log,
	}
}

// ProjectOrder は明細ごとに登録する。1件失敗しても残りは続け、失敗分は作り直し依頼を出す。
func (u *EnrollmentUsecase) ProjectOrder(ctx context.Context, order model.Order, items []model.OrderItem) ProjectionResult {
	res := u.project(ctx, order, items)
	if len(res.Failed) == 0 {
		return res
	}

	u.log.Error("enrollment projection partially failed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64s("failed_course_ids", res.Failed),
	)

	u.RequestRepair(ctx, EnrollmentRepairJob{OrderNumber: order.OrderNumber, CourseIDs: res.Failed})
	return res
}

// RequestRepair は作り直し依頼をキューに積む。キューが無ければログだけ。
func (u *EnrollmentUsecase) RequestRepair(ctx context.Context, job EnrollmentRepairJob) {
	if u.queue == nil {
		u.log.Warn("no repair queue configured", zap.String("order_number", job.OrderNumber))
		return
	}
	if err := u.queue.Publish(ctx, job); err != nil {
		u.log.Error("publish enrollment repair failed",
			zap.String("order_number", job.OrderNumber),
			zap.Error(err),
		)
	}
}

// RepairOrder はPAIDの注文の受講登録をやり直す（ワーカーとCLIから）。
// まだ失敗が残っていればエラーを返す。
func (u *EnrollmentUsecase) RepairOrder(ctx context.Context, orderNumber string) (ProjectionResult, error) {
	o, err := u.orders.FindByOrderNumber(ctx, orderNumber)
	if errors.Is(err, repo.ErrNotFound) {
		return ProjectionResult{}, WrapHTTPError(http.StatusNotFound, "not found", ErrLookup)
	}
	if err != nil {
		return ProjectionResult{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}
	if o.Status != model.OrderStatusPaid {
		return ProjectionResult{}, WrapHTTPError(http.StatusConflict, "order is not paid", ErrOrderNotPaid)
	}

	items, err := u.orderItems.ListByOrderID(ctx, o.ID)
	if err != nil {
		return ProjectionResult{}, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}

	res := u.project(ctx, o, items)
	u.log.Info("enrollment repair",
		zap.String("order_number", o.OrderNumber),
		zap.Int("created", res.Created),
		zap.Int("existed", res.Existed),
		zap.Int("failed", len(res.Failed)),
	)
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%d enrollments still failing for %s", len(res.Failed), o.OrderNumber)
	}
	return res, nil
}

func (u *EnrollmentUsecase) project(ctx context.Context, order model.Order, items []model.OrderItem) ProjectionResult {
	var res ProjectionResult
	now := u.clock.Now()

	for _, it := range items {
		created, err := u.enrollments.CreateIfAbsent(ctx, model.Enrollment{
			UserID:     order.UserID,
			CourseID:   it.CourseID,
			OrderID:    order.ID,
			EnrolledAt: now,
		})
		if err != nil {
			u.log.Warn("enrollment insert failed",
				zap.String("order_number", order.OrderNumber),
				zap.Int64("course_id", it.CourseID),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, it.CourseID)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Existed++
		}
	}
	return res
}
