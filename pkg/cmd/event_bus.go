package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/flowion/flowion/pkg/channels/gochannel"
	"github.com/flowion/flowion/pkg/channels/kafka"
	"github.com/flowion/flowion/pkg/eventbus"
)

// NewEventBus creates an event bus for the given provider. Kafka brokers come
// from KAFKA_BROKERS; the gochannel provider is in-process and meant for
// single-binary deployments and development.
func NewEventBus(provider, serviceName string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")

		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
