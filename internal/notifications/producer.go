package notifications

import (
	"context"
	"fmt"

	"clinicops/pkg/kafka"
	kafka_config "clinicops/pkg/kafka/config"
	kafka_middleware "clinicops/pkg/kafka/middleware"
	"clinicops/pkg/logger"
	"clinicops/pkg/model"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentCancelled = "appointment.cancelled"

	producerSource = "clinicops.reservations"
)

// KafkaNotifier publishes booking facts to the notification topic. It
// implements the booking coordinator's Notifier; the notification
// service consumes the topic and handles client messaging.
type KafkaNotifier struct {
	producer *kafka.Producer
	log      *logger.Logger
}

func NewKafkaNotifier(cfg *kafka_config.Config, log *logger.Logger) (*KafkaNotifier, error) {
	producer, err := kafka.NewProducer(cfg, kafka_config.TopicAppointmentEvents, kafka_config.TopicAppointmentEventsDLQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification producer: %w", err)
	}
	producer.Use(kafka_middleware.LoggingProducerMiddleware(log))

	return &KafkaNotifier{
		producer: producer,
		log:      log,
	}, nil
}

func (n *KafkaNotifier) AppointmentBooked(ctx context.Context, appointment *model.Appointment) error {
	return n.publish(ctx, EventAppointmentBooked, appointment)
}

func (n *KafkaNotifier) AppointmentCancelled(ctx context.Context, appointment *model.Appointment) error {
	return n.publish(ctx, EventAppointmentCancelled, appointment)
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType string, appointment *model.Appointment) error {
	msg := kafka.NewMessage().
		WithKey(model.RoomKey(appointment.VetID, appointment.Date)).
		WithValue(appointment).
		WithEventType(eventType).
		WithSource(producerSource).
		Build()

	if err := n.producer.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
