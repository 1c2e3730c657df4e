package ratelimit

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"scanhub/pkg/utils"
)

// ValkeyStore is a CounterStore backed by Valkey, for deployments where
// submissions land on more than one process. Counters are plain INCR keys
// scoped to the window start, expired by TTL.
type ValkeyStore struct {
	client valkey.Client
	now    func() time.Time
}

func NewValkeyStore(cfg utils.ValkeyConfig) (*ValkeyStore, error) {
	opts := valkey.ClientOption{
		InitAddress:      []string{cfg.Addr},
		Password:         cfg.Password,
		ConnWriteTimeout: 5 * time.Second,
		SelectDB:         0,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return &ValkeyStore{client: client, now: time.Now}, nil
}

func (s *ValkeyStore) Close() {
	s.client.Close()
}

func (s *ValkeyStore) key(subject string, w Window) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", w.Name, subject, w.Start(s.now()).Unix())
}

func (s *ValkeyStore) Peek(ctx context.Context, subject string, w Window) (int, time.Time, error) {
	reset := w.Start(s.now()).Add(w.Period)

	res := s.client.Do(ctx, s.client.B().Get().Key(s.key(subject, w)).Build())
	n, err := res.AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, reset, nil
		}
		return 0, reset, fmt.Errorf("peek counter: %w", err)
	}
	return int(n), reset, nil
}

func (s *ValkeyStore) Increment(ctx context.Context, subject string, w Window) error {
	k := s.key(subject, w)

	// TTL carries one extra period so a Peek near the boundary never sees a
	// counter vanish mid-request.
	ttl := int64((2 * w.Period).Seconds())

	for _, res := range s.client.DoMulti(ctx,
		s.client.B().Incr().Key(k).Build(),
		s.client.B().Expire().Key(k).Seconds(ttl).Nx().Build(),
	) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
	}
	return nil
}
