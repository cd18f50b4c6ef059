package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// RelayConfig holds configuration for the NATS event relay.
type RelayConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	BufferSize    int
}

// DefaultRelayConfig returns default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "party.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		BufferSize:    256,
	}
}

// Relay mirrors every playlist event to NATS so out-of-process consumers
// (dashboards, archivers) can follow the party without a websocket. Relay
// failures are operational: logged, never surfaced to clients.
type Relay struct {
	nc     *nats.Conn
	config RelayConfig
	events chan playlist.Event
}

func NewRelay(config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		nc:     nc,
		config: config,
		events: make(chan playlist.Event, config.BufferSize),
	}, nil
}

// Deliver implements playlist.EventSink. It only enqueues; publishing
// happens on the relay's own goroutine so a slow broker never holds the
// store's mutation lock.
func (r *Relay) Deliver(event playlist.Event) {
	select {
	case r.events <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("relay buffer full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	log.Info().Str("subject_prefix", r.config.SubjectPrefix).Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return nil
		case event := <-r.events:
			r.publish(event)
		}
	}
}

func (r *Relay) publish(event playlist.Event) {
	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, event.Type)
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay event")
		return
	}

	if err := r.nc.Publish(subject, data); err != nil {
		log.Warn().
			Err(err).
			Str("subject", subject).
			Str("event_id", event.ID).
			Msg("failed to publish event to NATS")
	}
}

func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
