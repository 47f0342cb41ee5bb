package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/courier/internal/ir"
)

// DefaultStream is the redis stream events are appended to.
const DefaultStream = "courier:events"

// RedisSink appends events to a redis stream with XADD.
//
// Stream entries carry the event fields flat; attrs are canonical JSON so
// consumers can recompute the content-addressed id.
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(s *RedisSink) {
		s.stream = stream
	}
}

// WithMaxLen caps the stream length (approximate trimming). 0 disables it.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisSink) {
		s.maxLen = n
	}
}

// NewRedisSink creates a sink on an existing client.
func NewRedisSink(client redis.UniversalClient, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisSink(client, opts...), nil
}

// Publish implements engine.EventSink.
func (s *RedisSink) Publish(ctx context.Context, ev ir.Event) error {
	attrs := ev.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":    ev.ID,
			"seq":   ev.Seq,
			"kind":  string(ev.Kind),
			"block": uint64(ev.Block),
			"attrs": string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Kind, s.stream, err)
	}
	return nil
}

// Read returns up to count events from the stream starting after the entry
// id after ("" or "0" reads from the beginning), along with the id of the
// last entry returned.
func (s *RedisSink) Read(ctx context.Context, after string, count int64) ([]ir.Event, string, error) {
	start := "-"
	if after != "" && after != "0" {
		next, err := nextEntryID(after)
		if err != nil {
			return nil, after, err
		}
		start = next
	}

	msgs, err := s.client.XRangeN(ctx, s.stream, start, "+", count).Result()
	if err != nil {
		return nil, after, fmt.Errorf("read %s: %w", s.stream, err)
	}

	evs := make([]ir.Event, 0, len(msgs))
	last := after
	for _, m := range msgs {
		ev, err := decodeEntry(m.Values)
		if err != nil {
			return nil, after, fmt.Errorf("read %s entry %s: %w", s.stream, m.ID, err)
		}
		evs = append(evs, ev)
		last = m.ID
	}
	return evs, last, nil
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// nextEntryID returns the smallest stream id greater than id.
func nextEntryID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("invalid stream id %q", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	return fmt.Sprintf("%s-%d", ms, n+1), nil
}

func decodeEntry(values map[string]any) (ir.Event, error) {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}

	seq, err := strconv.ParseInt(str("seq"), 10, 64)
	if err != nil {
		return ir.Event{}, fmt.Errorf("seq: %w", err)
	}
	block, err := strconv.ParseUint(str("block"), 10, 64)
	if err != nil {
		return ir.Event{}, fmt.Errorf("block: %w", err)
	}
	attrs, err := ir.UnmarshalObject([]byte(str("attrs")))
	if err != nil {
		return ir.Event{}, err
	}

	return ir.Event{
		ID:    str("id"),
		Seq:   seq,
		Kind:  ir.EventKind(str("kind")),
		Block: ir.BlockNumber(block),
		Attrs: attrs,
	}, nil
}
