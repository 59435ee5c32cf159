package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"boardsync/contract"
	"boardsync/gateway"
	"boardsync/internal"
	"boardsync/publisher"
	"boardsync/repositories"
	"boardsync/runtime"
	"boardsync/runtime/workers"
	"boardsync/sink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. This pattern is preferred over calling
// os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed
//    before the program exits.
// 2. It improves testability by decoupling initialization from the entry
//    point.
// 3. It provides a structured way to handle graceful shutdowns for the
//    HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Supervision, rooms, side-lane sinks
	sup := workers.NewSupervisor(log, config.RestartInterval)
	snapshotRepository := repositories.NewSnapshotRepository(db, log)

	manager := runtime.NewManager(log, snapshotRepository, sup, runtime.ManagerConfig{
		Room: runtime.RoomConfig{
			OplogRetention: config.OplogRetention,
			CommandBuffer:  config.CommandBufferSize,
			PresenceTick:   config.PresenceTick,
			LivenessWindow: config.LivenessWindow,
		},
		IdleEviction: config.IdleEviction,
	}, config.BufferSize)

	sinks := []contract.EventSink{sink.NewLatencySink(log, config.LatencyThreshold)}

	var kafkaPublisher *publisher.KafkaPublisher
	if len(config.KafkaBrokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(config.KafkaBrokers, kafkaCfg)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		kafkaPublisher = publisher.NewKafkaPublisher(log, producer, config.KafkaTopic, publisher.Options{
			QueueSize:   config.BufferSize,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  time.Second,
		})
		defer func() {
			kafkaPublisher.Close()
			_ = producer.Close()
		}()
		sinks = append(sinks, kafkaPublisher)
	}

	fanout := workers.NewEventFanout(log, manager.Events(), config.SinkTimeout, sinks...)
	snapshotter := workers.NewSnapshotter(log, manager, config.SnapshotInterval)
	sup.Add(manager, fanout, snapshotter)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	// 5. HTTP / websocket gateway
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	gw := gateway.New(log, manager, gateway.Config{
		JWTSecret:       []byte(config.JWTSecret),
		SendBuffer:      config.ConnectionBufferSize,
		CallTimeout:     config.SubmitTimeout,
		SnapshotTimeout: config.SubmitTimeout,
	})
	gw.Routes(r)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: r}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting canvas server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 7. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	manager.Stop()
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
