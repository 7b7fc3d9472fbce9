package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"coursemarket/internal/config"
	"coursemarket/internal/infra/db"
	"coursemarket/internal/infra/logger"
	"coursemarket/internal/infra/mq"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/usecase"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// 受講登録の作り直し依頼を処理するワーカー
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.GoEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.RabbitMQURL == "" {
		log.Fatal("RABBITMQ_URL is required for the enrollment worker")
	}

	gormDB, err := db.Connect()
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}

	conn, err := mq.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal("rabbitmq dial failed", zap.Error(err))
	}
	defer conn.Close()

	orders := infraRepo.NewOrderGormRepository(gormDB)
	orderItems := infraRepo.NewOrderItemGormRepository(gormDB)
	enrollments := infraRepo.NewEnrollmentGormRepository(gormDB)

	// ワーカー内で失敗したものはキューに積み直さない（再配送はackで制御）
	enrollUC := usecase.NewEnrollmentUsecase(enrollments, orders, orderItems, nil, usecase.SystemClock(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("enrollment worker started", zap.String("queue", cfg.EnrollmentRepairQueue))

	err = mq.ConsumeEnrollmentRepairs(ctx, conn, cfg.EnrollmentRepairQueue, log,
		func(ctx context.Context, job usecase.EnrollmentRepairJob) error {
			_, err := enrollUC.RepairOrder(ctx, job.OrderNumber)
			// 注文が無い・未払いはやり直しても変わらないので捨てる
			if errors.Is(err, usecase.ErrLookup) || errors.Is(err, usecase.ErrOrderNotPaid) {
				log.Warn("repair job dropped", zap.String("order_number", job.OrderNumber), zap.Error(err))
				return nil
			}
			return err
		})
	if err != nil {
		log.Fatal("consume failed", zap.Error(err))
	}
}
