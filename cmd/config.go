package main

import (
	"fmt"
	"ringside/errors"
	"ringside/repositories"
	"strings"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	GrpcPort             int           `env:"GRPC_PORT,default=9090"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	StoreDriver          string        `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/messages"`
	PostgresURL          string        `env:"POSTGRES_URL"`
	MongoURL             string        `env:"MONGO_URL"`
	MongoDatabase        string        `env:"MONGO_DATABASE,default=ringside"`
	NumberOfWorkers      int           `env:"NUMBER_OF_WORKERS,required=true"`
	DispatchBufferSize   int           `env:"DISPATCH_BUFFER_SIZE,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=0"`
	MaxBodyLength        int           `env:"MAX_BODY_LENGTH,default=4096"`
	EventsPerSecond      float64       `env:"EVENTS_PER_SECOND,default=20"`
	EventBurst           int           `env:"EVENT_BURST,default=40"`
	ReadLimit            int64         `env:"READ_LIMIT,default=16384"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait            time.Duration `env:"WRITE_WAIT,default=10s"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS,default=*"`
	RequireToken         bool          `env:"REQUIRE_TOKEN,default=false"`
	JWTSecret            string        `env:"JWT_SECRET"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Validate catches combinations the env tags cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case repositories.DriverBadger:
	case repositories.DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required with STORE_DRIVER=%s", c.StoreDriver)
		}
	case repositories.DriverMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required with STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownStoreDriver, c.StoreDriver)
	}
	if c.RequireToken && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when REQUIRE_TOKEN is set")
	}
	if c.NumberOfWorkers < 1 {
		return fmt.Errorf("NUMBER_OF_WORKERS must be positive")
	}
	return nil
}

func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
