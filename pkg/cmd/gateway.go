package cmd

import (
	"log/slog"

	"github.com/dukex/courier/pkg/gateway"
)

func NewGateway(config gateway.EvolutionConfig, logger *slog.Logger) gateway.Gateway {
	return gateway.NewEvolutionClient(config, logger)
}
