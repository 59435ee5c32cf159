package internal

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	BufferSize           int           `env:"BUFFER_SIZE,default=1024" validate:"gte=1"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gte=1"`
	CommandBufferSize    int           `env:"COMMAND_BUFFER_SIZE,default=256" validate:"gte=1"`
	OplogRetention       int           `env:"OPLOG_RETENTION,default=10000" validate:"gte=1"`
	PresenceTick         time.Duration `env:"PRESENCE_TICK,default=100ms" validate:"gt=0"`
	LivenessWindow       time.Duration `env:"LIVENESS_WINDOW,default=30s" validate:"gt=0"`
	IdleEviction         time.Duration `env:"IDLE_EVICTION,default=10m" validate:"gt=0"`
	SnapshotInterval     time.Duration `env:"SNAPSHOT_INTERVAL,default=30s" validate:"gt=0"`
	SubmitTimeout        time.Duration `env:"SUBMIT_TIMEOUT,default=2s" validate:"gt=0"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=5s" validate:"gt=0"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	LatencyThreshold     time.Duration `env:"LATENCY_THRESHOLD,default=500ms" validate:"gt=0"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080" validate:"gte=1,lte=65535"`
	JWTSecret            string        `env:"JWT_SECRET,required=true" validate:"min=16"`

	// Kafka is optional: no brokers disables the operation stream.
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=canvas-operations"`
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
