package main

import (
	"allotment/internal/admin/handler"
	allocrepo "allotment/internal/allocation/repository"
	"allotment/internal/allocation/service"
	"allotment/internal/allocation/validator"
	"allotment/internal/notify"
	"allotment/internal/reconcile"
	slotrepo "allotment/internal/slots/repository"
	slotservice "allotment/internal/slots/service"
	slotvalidator "allotment/internal/slots/validator"
	"allotment/pkg/app"
	"allotment/pkg/clock"
	"allotment/pkg/config"
	"allotment/pkg/kafka"
	kafka_config "allotment/pkg/kafka/config"
	kafkamw "allotment/pkg/kafka/middleware"
	"context"
	"errors"
)

const ServiceName = "allocator"

type stores struct {
	resources allocrepo.ResourceStore
	slots     slotrepo.SlotStore
}

type notifier struct {
	sink     notify.Sink
	registry *notify.Registry
	metrics  *kafkamw.Metrics
}

func main() {
	cfg := config.Load(ServiceName)
	defer cfg.GracefulShutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverApp := app.NewApplication(cfg)
	st := initStores(cfg)
	nt := initNotifier(ctx, cfg, serverApp)
	clk := clock.NewSystem()

	deps := service.Deps{
		Store: st.resources,
		Sink:  nt.sink,
		Clock: clk,
		Log:   cfg.Log,
		Retry: service.RetryPolicy{
			Attempts:    cfg.RetryAttempts,
			BaseBackoff: cfg.RetryBaseBackoff,
		},
	}
	ledger := service.NewLedgerService(deps, validator.NewResourceValidator(cfg.Log))
	waitlist := service.NewWaitlistService(deps)
	slots := slotservice.NewSlotService(st.slots, slotvalidator.NewSlotValidator(cfg.Log), nt.sink, clk, cfg.Log)

	scheduler := reconcile.NewScheduler(st.resources, waitlist, reconcile.Config{
		Interval:        cfg.SweepInterval,
		ResourceTimeout: cfg.SweepResourceTimeout,
		RatePerSec:      cfg.SweepRatePerSec,
	}, cfg.Log)
	if err := scheduler.Start(ctx); err != nil {
		cfg.Log.Fatal("Failed to start reconciliation scheduler", "error", err)
	}
	serverApp.OnShutdown("reconcile", scheduler.Stop)

	opts := []handler.Option{handler.WithPresence(nt.registry)}
	if nt.metrics != nil {
		opts = append(opts, handler.WithEventStats(nt.metrics))
	}
	adminHandler := handler.NewAdminHandler(ledger, waitlist, slots, scheduler, cfg.DefaultHoldDuration, cfg.Log, opts...)

	serverApp.SetApp(handler.NewHealthHandler(st.resources, cfg.Log), adminHandler)
	cfg.Log.Info("Allocator initialized",
		"store_backend", cfg.StoreBackend,
		"notify_backend", cfg.NotifyBackend,
	)
	serverApp.Run(ctx)
}

func initStores(cfg *config.Config) stores {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		cfg.SetMongo()
		return stores{
			resources: allocrepo.NewMongoResourceStore(cfg),
			slots:     slotrepo.NewMongoSlotStore(cfg),
		}
	case config.StoreRedis:
		cfg.SetRedis()
		return stores{
			resources: allocrepo.NewRedisResourceStore(cfg.Client.Redis),
			slots:     slotrepo.NewRedisSlotStore(cfg.Client.Redis, ""),
		}
	default:
		cfg.Log.Warn("Using in-memory stores; state is lost on restart and not shared between replicas")
		return stores{
			resources: allocrepo.NewMemoryResourceStore(),
			slots:     slotrepo.NewMemorySlotStore(),
		}
	}
}

// initNotifier builds the event sink. Events always reach sessions connected
// to this process through the registry; the configured backend fans them out
// to other consumers.
func initNotifier(ctx context.Context, cfg *config.Config, serverApp *app.Application) notifier {
	nt := notifier{registry: notify.NewRegistry()}

	switch cfg.NotifyBackend {
	case config.NotifyKafka:
		kafkaCfg, err := kafka_config.Load()
		if err != nil {
			cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
		}
		kafkaCfg.LogConfiguration(cfg.Log)

		producer, err := kafka.NewProducer(kafkaCfg, cfg.NotifyTopic, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
		}
		nt.metrics = kafkamw.NewMetrics()
		producer.Use(kafkamw.LoggingProducerMiddleware(cfg.Log))
		producer.Use(nt.metrics.ProducerMiddleware())
		serverApp.OnShutdown("kafka-producer", producer.Close)

		if kafkaCfg.RelayEnabled {
			// Sessions may live on any replica, so the registry is fed from the
			// topic instead of directly.
			nt.sink = notify.NewKafkaSink(producer)
			startRelay(ctx, cfg, kafkaCfg, nt, serverApp)
			return nt
		}
		nt.sink = notify.Multi(notify.NewKafkaSink(producer), nt.registry.Sink())

	case config.NotifyRabbitMQ:
		rabbit := notify.NewRabbitMQSink(cfg.RabbitMQURL, cfg.NotifyQueue, cfg.Log)
		serverApp.OnShutdown("rabbitmq", rabbit.Close)
		nt.sink = notify.Multi(rabbit, nt.registry.Sink())

	default:
		nt.sink = notify.Multi(notify.NewLogSink(cfg.Log), nt.registry.Sink())
	}
	return nt
}

func startRelay(ctx context.Context, cfg *config.Config, kafkaCfg *kafka_config.Config, nt notifier, serverApp *app.Application) {
	relay := notify.NewRelay(nt.registry, cfg.Log)
	consumer, err := kafka.NewConsumer(kafkaCfg, cfg.NotifyTopic, kafkaCfg.RelayGroupID, relay.Handle, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka relay consumer", "error", err)
	}
	consumer.Use(kafkamw.LoggingConsumerMiddleware(cfg.Log))
	consumer.Use(nt.metrics.ConsumerMiddleware())

	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, kafka.ErrConsumerClosed) {
			cfg.Log.Error("Kafka relay consumer stopped", "error", err)
		}
	}()
	serverApp.OnShutdown("kafka-relay", consumer.Close)
	cfg.Log.Info("Kafka notification relay started", "group_id", kafkaCfg.RelayGroupID)
}
