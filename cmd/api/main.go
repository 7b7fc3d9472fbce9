package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"coursemarket/internal/config"
	"coursemarket/internal/gateway"
	"coursemarket/internal/handler"
	"coursemarket/internal/infra/db"
	"coursemarket/internal/infra/logger"
	"coursemarket/internal/infra/mq"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/server"
	"coursemarket/internal/usecase"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .envは無くてもよい（本番は環境変数で渡す）
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

	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Fatal("db migrate failed", zap.Error(err))
	}

	//決済プロバイダ
	registry, err := newGateways(cfg)
	if err != nil {
		log.Fatal("payment gateway config invalid", zap.Error(err))
	}
	if cfg.PaymentSandbox {
		log.Warn("payment signature verification is disabled (sandbox)")
	}

	//作り直しキュー（任意）
	var repairQueue usecase.EnrollmentRepairQueue
	if cfg.RabbitMQURL != "" {
		conn, err := mq.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Fatal("rabbitmq dial failed", zap.Error(err))
		}
		defer conn.Close()
		repairQueue = mq.NewEnrollmentRepairPublisher(conn, cfg.EnrollmentRepairQueue)
	}

	//Repository（GORM実装）生成
	tx := infraRepo.NewTxManagerGorm(gormDB)
	orders := infraRepo.NewOrderGormRepository(gormDB)
	orderItems := infraRepo.NewOrderItemGormRepository(gormDB)
	payments := infraRepo.NewPaymentGormRepository(gormDB)
	carts := infraRepo.NewCartGormRepository(gormDB)
	courses := infraRepo.NewCourseGormRepository(gormDB)
	enrollments := infraRepo.NewEnrollmentGormRepository(gormDB)

	clock := usecase.SystemClock()
	ids := usecase.UUIDGenerator()

	//Usecase生成
	enrollUC := usecase.NewEnrollmentUsecase(enrollments, orders, orderItems, repairQueue, clock, log)
	checkoutUC := usecase.NewCheckoutUsecase(tx, carts, carts, courses, registry, enrollUC, clock, log)
	callbackUC := usecase.NewPaymentCallbackUsecase(tx, orders, orderItems, payments, carts, carts, registry, enrollUC, clock, ids, log)
	orderUC := usecase.NewOrderUsecase(tx)
	adminOrderUC := usecase.NewAdminOrderUsecase(tx)
	cartUC := usecase.NewCartUsecase(carts, carts, courses)

	//Handler生成
	e := server.New(cfg, server.Handlers{
		Checkout:   handler.NewCheckoutHandler(checkoutUC),
		Payment:    handler.NewPaymentHandler(callbackUC, cfg.FEURL, cfg.SePay.APIKey),
		Order:      handler.NewOrderHandler(orderUC),
		AdminOrder: handler.NewAdminOrderHandler(adminOrderUC),
		Cart:       handler.NewCartHandler(cartUC),
	}, log)

	//Server起動
	addr := ":8080"
	if v := cfg.Port; v != "" {
		if v[0] != ':' {
			addr = ":" + v
		} else {
			addr = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("api listening", zap.String("addr", addr), zap.String("env", cfg.GoEnv))
	if err := server.Start(ctx, e, addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newGateways(cfg config.Config) (*gateway.Registry, error) {
	opts := gateway.Options{SkipSignatureCheck: cfg.PaymentSandbox}

	vnp, err := gateway.NewVNPay(gateway.VNPayConfig{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
		Locale:     cfg.VNPay.Locale,
	}, opts)
	if err != nil {
		return nil, err
	}

	sep, err := gateway.NewSePay(gateway.SePayConfig{
		AccountNumber: cfg.SePay.AccountNumber,
		BankCode:      cfg.SePay.BankCode,
		QRBaseURL:     cfg.SePay.QRURL,
		SecretKey:     cfg.SePay.SecretKey,
	}, opts)
	if err != nil {
		return nil, err
	}

	return gateway.NewRegistry(vnp, sep), nil
}
