// Package redisbus spreads group broadcasts across server processes over
// Redis pub/sub. Group membership stays in each process's registry.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
)

// Deliverer hands a frame to the local members of a group.
type Deliverer interface {
	Deliver(group string, frame *proto.Frame) int
	DeliverWait(ctx context.Context, group string, frame *proto.Frame) (int, error)
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// envelope is the pub/sub payload. Origin lets a process skip its own
// publications, which it already delivered locally.
type envelope struct {
	Origin string       `json:"origin"`
	Frame  *proto.Frame `json:"frame"`
}

// Bus delivers every broadcast to the local registry and publishes it to
// <prefix><group> for the other processes subscribed to <prefix>*.
type Bus struct {
	client redis.UniversalClient
	prefix string
	origin string
	local  Deliverer
	log    *zerolog.Logger
}

// New creates a bus. Call Run to start receiving.
func New(client redis.UniversalClient, prefix string, local Deliverer, logger *zerolog.Logger) *Bus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{client: client, prefix: prefix, origin: uuid.NewString(), local: local, log: logger}
}

// Broadcast implements core.Broadcaster.
func (b *Bus) Broadcast(ctx context.Context, group string, frame *proto.Frame) {
	b.local.Deliver(group, frame)
	b.publish(ctx, group, frame)
}

// BroadcastWait implements core.Broadcaster. Only local members are waited
// for; remote processes deliver fire-and-forget.
func (b *Bus) BroadcastWait(ctx context.Context, group string, frame *proto.Frame) error {
	if _, err := b.local.DeliverWait(ctx, group, frame); err != nil {
		return err
	}
	b.publish(ctx, group, frame)
	return nil
}

func (b *Bus) publish(ctx context.Context, group string, frame *proto.Frame) {
	payload, err := json.Marshal(envelope{Origin: b.origin, Frame: frame})
	if err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("encode frame for redis")
		return
	}
	if err := b.client.Publish(ctx, b.prefix+group, payload).Err(); err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("redis publish failed, delivered locally only")
	}
}

// Run consumes published frames until ctx is cancelled, resubscribing with
// exponential backoff after connection loss.
func (b *Bus) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 30 * time.Second

	err := backoff.RetryNotify(func() error {
		err := b.consume(ctx, bo.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		b.log.Warn().Err(err).Dur("retry_in", wait).Msg("redis subscription lost")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bus) consume(ctx context.Context, subscribed func()) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", b.prefix, err)
	}
	subscribed()
	b.log.Info().Str("pattern", b.prefix+"*").Msg("redis subscription active")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Frame == nil {
			b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable redis frame")
			continue
		}
		if env.Origin == b.origin {
			continue
		}
		group := strings.TrimPrefix(msg.Channel, b.prefix)
		b.local.Deliver(group, env.Frame)
	}
}

var _ core.Broadcaster = (*Bus)(nil)
