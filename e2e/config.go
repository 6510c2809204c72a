package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RINGSIDE_WS_URL points at a running server, e.g. ws://localhost:8080/ws
	WSURL    string `envconfig:"RINGSIDE_WS_URL"`
	GrpcAddr string `envconfig:"RINGSIDE_GRPC_ADDR"`
	// E2E_TOKEN_SECRET must match JWT_SECRET when the server runs with REQUIRE_TOKEN
	TokenSecret string `envconfig:"E2E_TOKEN_SECRET"`
	// E2E_DEBUG_JSON dumps every frame exchanged over the socket
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
