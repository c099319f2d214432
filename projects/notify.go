package projects

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Notifier fans out "project changed" signals. Signals carry no payload;
// subscribers reload the project. A subscription channel holds at most one
// pending signal, so bursts of changes coalesce into one refresh.
type Notifier interface {
	Publish(ctx context.Context, projectID uuid.UUID) error
	// Subscribe returns the signal channel and a cancel func that must be
	// called to release the subscription. The channel closes after cancel.
	Subscribe(ctx context.Context, projectID uuid.UUID) (<-chan struct{}, func(), error)
}

func projectChannel(projectID uuid.UUID) string {
	return fmt.Sprintf("project:%s:changed", projectID)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RedisNotifier implements Notifier with redis Pub/Sub, so every server
// instance sees changes made through any other.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a notifier on rdb
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Publish(ctx context.Context, projectID uuid.UUID) error {
	return n.rdb.Publish(ctx, projectChannel(projectID), "changed").Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, projectID uuid.UUID) (<-chan struct{}, func(), error) {
	ps := n.rdb.Subscribe(ctx, projectChannel(projectID))
	// Wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", projectID, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				log.Debug().Err(err).Str("project_id", projectID.String()).Msg("closing subscription")
			}
		})
	}
	return out, cancel, nil
}

// MemoryNotifier implements Notifier in process. It serves tests and
// single-node development without redis.
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan struct{}]struct{}
}

// NewMemoryNotifier creates an empty MemoryNotifier
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[uuid.UUID]map[chan struct{}]struct{})}
}

func (n *MemoryNotifier) Publish(_ context.Context, projectID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[projectID] {
		signal(ch)
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(_ context.Context, projectID uuid.UUID) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[projectID] == nil {
		n.subs[projectID] = make(map[chan struct{}]struct{})
	}
	n.subs[projectID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[projectID], ch)
			if len(n.subs[projectID]) == 0 {
				delete(n.subs, projectID)
			}
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for projectID
func (n *MemoryNotifier) Subscribers(projectID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[projectID])
}
