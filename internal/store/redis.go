package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/minhtp/drawdash/internal/errors"
)

const (
	defaultLeaseTTL      = 15 * time.Second
	defaultSweepInterval = 5 * time.Second
	subscriptionBuffer   = 256

	// updateMaxRetries bounds the optimistic retry loop in Update. Each
	// failed attempt means another writer committed, so under any finite
	// contention the loop terminates long before the bound.
	updateMaxRetries = 1000
)

type Config struct {
	Redis    redis.UniversalClient
	Prefix   string
	ClientID string

	// LeaseTTL is how long after this client's last lease refresh its
	// disconnect hooks become eligible to fire.
	LeaseTTL      time.Duration
	SweepInterval time.Duration
}

// Redis backs the Store interface with a Redis instance: one JSON
// value per document, pub/sub for change notification, and a
// lease-plus-registry scheme for disconnect hooks.
type Redis struct {
	rdb        redis.UniversalClient
	prefix     string
	clientID   string
	leaseTTL   time.Duration
	sweepEvery time.Duration
}

func New(c Config) *Redis {
	s := &Redis{
		rdb:        c.Redis,
		prefix:     c.Prefix,
		clientID:   c.ClientID,
		leaseTTL:   c.LeaseTTL,
		sweepEvery: c.SweepInterval,
	}

	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = defaultLeaseTTL
	}
	if s.sweepEvery <= 0 {
		s.sweepEvery = defaultSweepInterval
	}

	return s
}

func (s *Redis) docKey(path string) string {
	return s.prefix + ":doc:" + path
}

func (s *Redis) channel(path string) string {
	return s.prefix + ":ch:" + path
}

func (s *Redis) leaseKey(clientID string) string {
	return s.prefix + ":lease:" + clientID
}

func (s *Redis) hooksKey(clientID string) string {
	return s.prefix + ":hooks:" + clientID
}

func (s *Redis) Get(ctx context.Context, path string) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.docKey(path)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, unavailable("get", path, err)
	}

	return Snapshot{Path: path, data: data}, nil
}

func (s *Redis) List(ctx context.Context, path string) (map[string]Snapshot, error) {
	base := s.docKey(path) + "/"
	children := make(map[string]Snapshot)

	iter := s.rdb.Scan(ctx, 0, base+"*", 0).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), base)
		if strings.Contains(name, "/") {
			continue
		}

		snap, err := s.Get(ctx, path+"/"+name)
		if err != nil {
			return nil, err
		}
		if snap.Exists() {
			children[name] = snap
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("list", path, err)
	}

	return children, nil
}

func (s *Redis) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}

	return s.write(ctx, path, data)
}

// Update merges fields into the document at path under an optimistic
// transaction, so concurrent merges into different leaf keys of one
// document all survive. Concurrent merges into the SAME leaf key remain
// last-write-wins.
func (s *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	key := s.docKey(path)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !stderrors.Is(err, redis.Nil) {
			return unavailable("get", path, err)
		}

		doc := make(map[string]any)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("store: decode %s: %w", path, err)
			}
		}

		merge(doc, fields)

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("store: marshal %s: %w", path, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Publish(ctx, s.channel(path), data)
			return nil
		})
		return err
	}

	for i := 0; i < updateMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return unavailable("update", path, redis.TxFailedErr)
}

// write commits the document then notifies subscribers. Commit and
// notification are two steps, so a crash in between loses one
// notification but never a write.
func (s *Redis) write(ctx context.Context, path string, data []byte) error {
	if err := s.rdb.Set(ctx, s.docKey(path), data, 0).Err(); err != nil {
		return unavailable("set", path, err)
	}

	if err := s.rdb.Publish(ctx, s.channel(path), data).Err(); err != nil {
		return unavailable("publish", path, err)
	}

	return nil
}

// Delete removes the document at path and every descendant document.
func (s *Redis) Delete(ctx context.Context, path string) error {
	paths := []string{path}

	base := s.docKey(path) + "/"
	iter := s.rdb.Scan(ctx, 0, base+"*", 0).Iterator()
	for iter.Next(ctx) {
		paths = append(paths, path+"/"+strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return unavailable("delete", path, err)
	}

	for _, p := range paths {
		if err := s.rdb.Del(ctx, s.docKey(p)).Err(); err != nil {
			return unavailable("delete", p, err)
		}
		if err := s.rdb.Publish(ctx, s.channel(p), "").Err(); err != nil {
			return unavailable("publish", p, err)
		}
	}

	return nil
}

func (s *Redis) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	ps := s.rdb.PSubscribe(ctx, s.channel(path), s.channel(path)+"/*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", path, err)
	}

	events := make(chan Event, subscriptionBuffer)
	chanPrefix := s.prefix + ":ch:"

	go func() {
		defer close(events)

		for msg := range ps.Channel() {
			ev := Event{Path: strings.TrimPrefix(msg.Channel, chanPrefix)}
			if msg.Payload != "" {
				ev.Data = []byte(msg.Payload)
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{events: events, close: ps.Close}, nil
}

func (s *Redis) OnDisconnectSet(ctx context.Context, path string, fields map[string]any) (*DisconnectHook, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("store: marshal hook %s: %w", path, err)
	}

	// The lease stands in for the connection: as long as it is
	// refreshed the hooks stay dormant.
	if err := s.rdb.Set(ctx, s.leaseKey(s.clientID), "1", s.leaseTTL).Err(); err != nil {
		return nil, unavailable("lease", path, err)
	}

	if err := s.rdb.HSet(ctx, s.hooksKey(s.clientID), path, payload).Err(); err != nil {
		return nil, unavailable("arm hook", path, err)
	}

	return &DisconnectHook{
		Path: path,
		cancel: func(ctx context.Context) error {
			if err := s.rdb.HDel(ctx, s.hooksKey(s.clientID), path).Err(); err != nil {
				return unavailable("cancel hook", path, err)
			}
			return nil
		},
	}, nil
}

// Run maintains this client's lease and periodically sweeps expired
// clients' disconnect hooks. It blocks until ctx is cancelled.
func (s *Redis) Run(ctx context.Context) error {
	s.refreshLease(ctx)

	lease := time.NewTicker(s.leaseTTL / 3)
	defer lease.Stop()
	sweep := time.NewTicker(s.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lease.C:
			s.refreshLease(ctx)
		case <-sweep.C:
			if err := s.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "store: sweep failed", "error", err)
			}
		}
	}
}

func (s *Redis) refreshLease(ctx context.Context) {
	if err := s.rdb.Set(ctx, s.leaseKey(s.clientID), "1", s.leaseTTL).Err(); err != nil {
		slog.ErrorContext(ctx, "store: lease refresh failed", "error", err)
	}
}

// Sweep fires the disconnect hooks of every client whose lease has
// expired, then consumes them. Any live client may sweep; a concurrent
// sweep applies the same last-write-wins merges twice, which is
// harmless.
func (s *Redis) Sweep(ctx context.Context) error {
	base := s.hooksKey("")

	iter := s.rdb.Scan(ctx, 0, base+"*", 0).Iterator()
	for iter.Next(ctx) {
		clientID := strings.TrimPrefix(iter.Val(), base)

		alive, err := s.rdb.Exists(ctx, s.leaseKey(clientID)).Result()
		if err != nil {
			return unavailable("sweep", clientID, err)
		}
		if alive > 0 {
			continue
		}

		if err := s.fireHooks(ctx, clientID); err != nil {
			return err
		}
	}

	return iter.Err()
}

func (s *Redis) fireHooks(ctx context.Context, clientID string) error {
	hooks, err := s.rdb.HGetAll(ctx, s.hooksKey(clientID)).Result()
	if err != nil {
		return unavailable("sweep", clientID, err)
	}

	for path, payload := range hooks {
		var fields map[string]any
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			slog.ErrorContext(ctx, "store: bad hook payload", "path", path, "error", err)
			continue
		}

		if err := s.Update(ctx, path, fields); err != nil {
			return err
		}

		slog.InfoContext(ctx, "store: disconnect hook fired", "client", clientID, "path", path)
	}

	if err := s.rdb.Del(ctx, s.hooksKey(clientID)).Err(); err != nil {
		return unavailable("sweep", clientID, err)
	}

	return nil
}

// Close releases the lease and disarms all hooks. Graceful shutdown
// only; an abrupt exit leaves the lease to expire and the sweeper to
// fire the hooks.
func (s *Redis) Close(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.hooksKey(s.clientID), s.leaseKey(s.clientID)).Err(); err != nil {
		return unavailable("close", s.clientID, err)
	}

	return nil
}

// merge applies fields onto doc. Keys may be slash-separated paths into
// nested objects; a nil value deletes the addressed key.
func merge(doc map[string]any, fields map[string]any) {
	for key, val := range fields {
		parts := strings.Split(key, "/")

		node := doc
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}

		leaf := parts[len(parts)-1]
		if val == nil {
			delete(node, leaf)
		} else {
			node[leaf] = val
		}
	}
}

func unavailable(op, path string, err error) error {
	return errors.New(errors.CodeStoreUnavailable,
		errors.WithMessagef("store: %s %s", op, path),
		errors.WithCause(err),
	)
}
