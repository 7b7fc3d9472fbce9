package config

import (
	"fmt"
	"os"
	"strconv"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5433）

	JWTSecret string // JWT署名シークレット

	GoEnv     string // dev/prod
	APIDomain string // APIドメイン（VNPayの戻り先の既定値に使う）
	FEURL     string // フロントURL（決済結果画面へのリダイレクト先）
	LogLevel  string // debug/info/warn/error

	VNPay VNPayConfig
	SePay SePayConfig

	// trueなら署名検証をしない（サンドボックス専用）
	PaymentSandbox bool

	RabbitMQURL           string // 空なら作り直しキューは使わない
	EnrollmentRepairQueue string
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Locale     string
}

type SePayConfig struct {
	AccountNumber string
	BankCode      string
	APIKey        string // Webhookの認証
	SecretKey     string // signature付きWebhookの検証
	QRURL         string
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := mustAtoi("POSTGRES_PORT")
	if err != nil {
		return Config{}, err
	}
	sandbox, err := optionalBool("PAYMENT_SANDBOX")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv:     os.Getenv("GO_ENV"),
		APIDomain: os.Getenv("API_DOMAIN"),
		FEURL:     os.Getenv("FE_URL"),
		LogLevel:  getenv("LOG_LEVEL", "info"),

		VNPay: VNPayConfig{
			TmnCode:    os.Getenv("VNPAY_TMN_CODE"),
			HashSecret: os.Getenv("VNPAY_HASH_SECRET"),
			PayURL:     getenv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:  os.Getenv("VNPAY_RETURN_URL"),
			Locale:     getenv("VNPAY_LOCALE", "vn"),
		},
		SePay: SePayConfig{
			AccountNumber: os.Getenv("SEPAY_ACCOUNT_NUMBER"),
			BankCode:      os.Getenv("SEPAY_BANK_CODE"),
			APIKey:        os.Getenv("SEPAY_API_KEY"),
			SecretKey:     os.Getenv("SEPAY_SECRET_KEY"),
			QRURL:         getenv("SEPAY_QR_URL", "https://qr.sepay.vn/img"),
		},
		PaymentSandbox: sandbox,

		RabbitMQURL:           os.Getenv("RABBITMQ_URL"),
		EnrollmentRepairQueue: getenv("ENROLLMENT_REPAIR_QUEUE", "enrollment.repair"),
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.PostgresUser == "" {
		return Config{}, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.PostgresPassword == "" {
		return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if cfg.PostgresDB == "" {
		return Config{}, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.PostgresHost == "" {
		return Config{}, fmt.Errorf("POSTGRES_HOST is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.APIDomain == "" {
		return Config{}, fmt.Errorf("API_DOMAIN is required")
	}
	if cfg.FEURL == "" {
		return Config{}, fmt.Errorf("FE_URL is required")
	}

	// 戻り先は API_DOMAIN から組み立てられる
	if cfg.VNPay.ReturnURL == "" {
		cfg.VNPay.ReturnURL = cfg.APIDomain + "/payments/vnpay/return"
	}

	// 本番でサンドボックスは許さない
	if cfg.PaymentSandbox && cfg.GoEnv == "prod" {
		return Config{}, fmt.Errorf("PAYMENT_SANDBOX must be false when GO_ENV=prod")
	}

	// 決済のシークレット類はゲートウェイ生成時に検証する（起動時に落ちる）
	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func optionalBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be bool: %w", key, err)
	}
	return b, nil
}

func getenv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
