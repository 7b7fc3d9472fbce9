package mq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"coursemarket/internal/usecase"
)

// 受講登録の作り直し依頼をRabbitMQに積む
type EnrollmentRepairPublisher struct {
	conn  *amqp.Connection
	queue string
}

func Dial(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

func NewEnrollmentRepairPublisher(conn *amqp.Connection, queue string) *EnrollmentRepairPublisher {
	return &EnrollmentRepairPublisher{conn: conn, queue: queue}
}

func (p *EnrollmentRepairPublisher) Publish(ctx context.Context, job usecase.EnrollmentRepairJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err = ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// RepairHandler は1件の依頼を処理する
type RepairHandler func(ctx context.Context, job usecase.EnrollmentRepairJob) error

// ConsumeEnrollmentRepairs はctxが終わるまで依頼を処理する。
// 失敗したものは再キュー、壊れたメッセージは捨てる。
func ConsumeEnrollmentRepairs(ctx context.Context, conn *amqp.Connection, queue string, log *zap.Logger, handle RepairHandler) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	// 手動ack
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}

			var job usecase.EnrollmentRepairJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Warn("invalid repair message", zap.Error(err), zap.ByteString("body", d.Body))
				_ = d.Nack(false, false)
				continue
			}

			if err := handle(ctx, job); err != nil {
				log.Error("enrollment repair failed",
					zap.String("order_number", job.OrderNumber),
					zap.Error(err),
				)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
