package usecase

import (
	"time"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

// GatewayResolver は注文のプロバイダから決済アダプタを選ぶ（gateway.Registry）
type GatewayResolver interface {
	For(provider model.PaymentProvider) (gateway.Gateway, error)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock は実時間
func SystemClock() Clock { return realClock{} }

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// UUIDGenerator はコールバックの相関IDなどに使う
func UUIDGenerator() IDGenerator { return uuidGenerator{} }
