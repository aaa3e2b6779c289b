package main

import (
	"context"

	appointmenthandler "clinicops/internal/appointments/handler"
	appointmentrepo "clinicops/internal/appointments/repository"
	appointmentservice "clinicops/internal/appointments/service"
	appointmentvalidator "clinicops/internal/appointments/validator"
	"clinicops/internal/availability"
	"clinicops/internal/notifications"
	"clinicops/internal/realtime"
	reservationhandler "clinicops/internal/reservations/handler"
	reservationrepo "clinicops/internal/reservations/repository"
	reservationservice "clinicops/internal/reservations/service"
	reservationvalidator "clinicops/internal/reservations/validator"
	"clinicops/internal/sweeper"
	"clinicops/pkg/app"
	"clinicops/pkg/config"
	"clinicops/pkg/contracts"
	kafka_config "clinicops/pkg/kafka/config"
)

const ServiceName = "reservations"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()

	cfg.Log.Info("Starting reservations service")

	serverApp := app.NewApplication(cfg)

	hub := realtime.NewHub(cfg.EventBufferSize, cfg.Log)
	registry := realtime.NewRegistry(cfg.Log)

	var relay *realtime.Relay
	if cfg.Client.Redis != nil {
		relay = realtime.NewRelay(cfg.Client.Redis, hub, cfg.Log)
	}
	dispatcher := realtime.NewDispatcher(hub, relay, cfg.EventBufferSize, cfg.Log)

	notifier := initNotifier(cfg, serverApp)
	reservationService, appointmentService, suggester := initServices(cfg, dispatcher, notifier)

	handlers := []contracts.Handler{
		reservationhandler.NewReservationHandler(reservationService, cfg.Log),
		appointmenthandler.NewAppointmentHandler(appointmentService, suggester, cfg.Log),
		realtime.NewWatchHandler(hub, registry, reservationService, cfg.Log),
	}
	serverApp.SetApp(handlers, "/api/v1/watch")

	serverApp.AddWorker(dispatcher.Run)
	if relay != nil {
		serverApp.AddWorker(relay.Run)
	}
	expiry := sweeper.NewWorker(func(ctx context.Context) (int64, error) {
		_, expired, err := reservationService.ExpireOverdue(ctx)
		return expired, err
	}, cfg.SweepInterval, cfg.Log)
	serverApp.AddWorker(expiry.Run)

	serverApp.AddStopper(dispatcher.Stop)
	serverApp.AddStopper(registry.Stop)

	serverApp.Run()
}

func initServices(
	cfg *config.Config,
	dispatcher *realtime.Dispatcher,
	notifier appointmentservice.Notifier,
) (reservationservice.ReservationService, appointmentservice.AppointmentService, *appointmentservice.Suggester) {
	holdRepo := reservationrepo.NewMongoHoldRepository(cfg)
	appointmentRepo := appointmentrepo.NewMongoAppointmentRepository(cfg)
	lockRepo := appointmentrepo.NewMongoSlotLockRepository(cfg)
	scheduleRepo := availability.NewMongoScheduleRepository(cfg)

	reservationService := reservationservice.NewReservationService(
		holdRepo,
		appointmentRepo,
		reservationvalidator.NewHoldValidator(cfg.Log),
		dispatcher,
		cfg,
	)

	appointmentService := appointmentservice.NewAppointmentService(
		appointmentRepo,
		lockRepo,
		holdRepo,
		appointmentvalidator.NewAppointmentValidator(cfg.Log),
		dispatcher,
		notifier,
		cfg,
	)

	calculator := availability.NewCalculator(scheduleRepo, appointmentRepo, holdRepo, cfg)
	suggester := appointmentservice.NewSuggester(calculator, cfg)

	cfg.Log.Info("Services initialized", "database", cfg.MongoDatabaseName)
	return reservationService, appointmentService, suggester
}

// initNotifier wires the Kafka producer when enabled. A nil return lets
// the appointment service fall back to its no-op notifier.
func initNotifier(cfg *config.Config, serverApp *app.Application) appointmentservice.Notifier {
	if !cfg.KafkaEnabled {
		cfg.Log.Info("Kafka disabled, appointment notifications will not be published")
		return nil
	}

	kafkaCfg := kafka_config.Load()
	notifier, err := notifications.NewKafkaNotifier(kafkaCfg, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to initialize Kafka notifier", "error", err)
	}
	serverApp.AddStopper(func() {
		if err := notifier.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka notifier", "error", err)
		}
	})
	return notifier
}
