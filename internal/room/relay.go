package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "slidesync:room:"

type relayEnvelope struct {
	Node   string          `json:"node"`
	Sender string          `json:"sender,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Deliverer receives frames published by other nodes.
type Deliverer interface {
	DeliverLocal(documentID, sender string, frame []byte)
}

// RedisRelay shares room broadcasts between API nodes over Redis pub/sub.
// Frames published by this node are ignored when they come back.
type RedisRelay struct {
	client *redis.Client
	nodeID string
	log    zerolog.Logger

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewRedisRelay connects to redisURL and checks the connection.
func NewRedisRelay(redisURL, nodeID string, log zerolog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRelayWithClient(client, nodeID, log), nil
}

func NewRedisRelayWithClient(client *redis.Client, nodeID string, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		nodeID: nodeID,
		log:    log.With().Str("component", "relay").Str("node_id", nodeID).Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, documentID, sender string, frame []byte) error {
	payload, err := json.Marshal(relayEnvelope{Node: r.nodeID, Sender: sender, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+documentID, payload).Err(); err != nil {
		return fmt.Errorf("publish room frame: %w", err)
	}
	return nil
}

// Start subscribes to every room channel and hands frames from other nodes
// to d until Close is called.
func (r *RedisRelay) Start(ctx context.Context, d Deliverer) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	go r.consume(sub.Channel(), d)
	return nil
}

func (r *RedisRelay) consume(ch <-chan *redis.Message, d Deliverer) {
	for msg := range ch {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed relay frame")
			continue
		}
		if env.Node == r.nodeID {
			continue
		}
		d.DeliverLocal(strings.TrimPrefix(msg.Channel, channelPrefix), env.Sender, env.Frame)
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	return r.client.Close()
}
