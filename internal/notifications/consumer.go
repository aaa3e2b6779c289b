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

const consumerGroupID = "clinicops-notifier"

// Handler consumes booking facts and triggers client-facing messaging.
// The delivery channels themselves (email, SMS) live behind Sender.
type Handler struct {
	sender Sender
	log    *logger.Logger
}

// Sender delivers one notification to the client. Implementations are
// expected to be idempotent per appointment ID since the topic is
// at-least-once.
type Sender interface {
	SendBookingConfirmation(ctx context.Context, appointment *model.Appointment) error
	SendCancellationNotice(ctx context.Context, appointment *model.Appointment) error
}

// LogSender is the default Sender: it records what would have been sent.
// Real delivery integrations plug in behind the same interface.
type LogSender struct {
	Log *logger.Logger
}

func (s *LogSender) SendBookingConfirmation(_ context.Context, appointment *model.Appointment) error {
	s.Log.Info("Booking confirmation sent",
		"appointment_id", appointment.ID,
		"client_name", appointment.ClientName,
		"vet_id", appointment.VetID,
		"date", appointment.Date,
		"start_time", appointment.StartTime,
	)
	return nil
}

func (s *LogSender) SendCancellationNotice(_ context.Context, appointment *model.Appointment) error {
	s.Log.Info("Cancellation notice sent",
		"appointment_id", appointment.ID,
		"client_name", appointment.ClientName,
		"vet_id", appointment.VetID,
		"date", appointment.Date,
		"start_time", appointment.StartTime,
	)
	return nil
}

func NewHandler(sender Sender, log *logger.Logger) *Handler {
	return &Handler{
		sender: sender,
		log:    log,
	}
}

// Handle dispatches one consumed event. Unknown event types are logged
// and acknowledged so a schema addition upstream cannot wedge the group
// behind a poison message.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var appointment model.Appointment
	if err := msg.DecodeValue(&appointment); err != nil {
		return fmt.Errorf("failed to decode appointment event: %w", err)
	}

	switch msg.GetEventType() {
	case EventAppointmentBooked:
		return h.sender.SendBookingConfirmation(ctx, &appointment)
	case EventAppointmentCancelled:
		return h.sender.SendCancellationNotice(ctx, &appointment)
	default:
		h.log.Warn("Skipping unknown event type",
			"event_type", msg.GetEventType(),
			"event_id", msg.GetEventID(),
		)
		return nil
	}
}

// NewConsumer builds the notifier's consumer with DLQ and logging wired.
func NewConsumer(cfg *kafka_config.Config, handler *Handler, log *logger.Logger) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(
		cfg,
		kafka_config.TopicAppointmentEvents,
		consumerGroupID,
		kafka_config.TopicAppointmentEventsDLQ,
		handler.Handle,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification consumer: %w", err)
	}
	consumer.Use(kafka_middleware.LoggingConsumerMiddleware(log))

	return consumer, nil
}
