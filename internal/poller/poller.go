package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/fjod/trophythreads/internal/cache"
	"github.com/fjod/trophythreads/internal/domain"
	"github.com/fjod/trophythreads/internal/repository"
)

const DefaultGroupID = "checkout-cart-cache"

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller follows the order-committed topic and evicts the cached cart of
// every owner who just checked out. The replica that served the checkout
// already evicts its own entry; this catches the ones it missed.
type Poller struct {
	reader     MessageReader
	cache      cache.CartCache
	retryDelay time.Duration
}

func NewPoller(c cache.CartCache, topic, groupID string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(reader, c)
}

func newPoller(reader MessageReader, c cache.CartCache) *Poller {
	return &Poller{reader: reader, cache: c, retryDelay: time.Second}
}

// Run reads until ctx is done or the reader is closed. Read errors are
// retried after retryDelay.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if errors.Is(err, io.EOF) {
			log.Info().Msg("reader closed, stopping cart cache poller")
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("error reading message")
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := p.evictCart(ctx, m); err != nil {
			log.Error().Err(err).Str("key", string(m.Key)).Msg("failed to evict cart after order")
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		log.Error().Err(err).Msg("error closing reader")
	}
}

func (p *Poller) evictCart(ctx context.Context, m kafka.Message) error {
	if t := eventType(m); t != "" && t != repository.EventTypeOrderCommitted {
		return nil
	}

	var event domain.OrderCommittedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}

	owner := event.Owner()
	if !owner.Valid() {
		return errors.New("missing or invalid owner")
	}

	if err := p.cache.Delete(ctx, owner); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	log.Debug().Str("owner", owner.Key()).Str("order_token", event.OrderToken.String()).Msg("cart cache evicted")
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
