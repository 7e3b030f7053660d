// Package redis implements the bridge stores on Redis. Keys are namespaced by
// chain ID so one Redis instance can serve both sides of the bridge.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// Store implements storage.Store for one chain.
type Store struct {
	client  goredis.UniversalClient
	prefix  string
	ownsCli bool
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing client. The caller keeps ownership of client.
func New(client goredis.UniversalClient, chainID uint64) *Store {
	return &Store{client: client, prefix: fmt.Sprintf("bridge:%d:", chainID)}
}

// Open connects to addr and verifies the connection with PING.
func Open(ctx context.Context, addr, password string, db int, chainID uint64) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s := New(client, chainID)
	s.ownsCli = true
	return s, nil
}

func (s *Store) signalKey(h common.Hash) string   { return s.prefix + "signal:" + h.Hex() }
func (s *Store) recalledKey(h common.Hash) string { return s.prefix + "recalled:" + h.Hex() }
func (s *Store) statusKey() string                { return s.prefix + "status" }

func (s *Store) RaiseSignal(ctx context.Context, signal common.Hash) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.signalKey(signal), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("raise signal: %w", err)
	}
	return ok, nil
}

func (s *Store) IsSignalRaised(ctx context.Context, signal common.Hash) (bool, error) {
	n, err := s.client.Exists(ctx, s.signalKey(signal)).Result()
	if err != nil {
		return false, fmt.Errorf("read signal: %w", err)
	}
	return n == 1, nil
}

func (s *Store) RetractSignal(ctx context.Context, signal common.Hash) error {
	return s.client.Del(ctx, s.signalKey(signal)).Err()
}

func (s *Store) GetStatus(ctx context.Context, msgHash common.Hash) (state.Status, error) {
	v, err := s.client.HGet(ctx, s.statusKey(), msgHash.Hex()).Result()
	if errors.Is(err, goredis.Nil) {
		return state.StatusNew, nil
	}
	if err != nil {
		return state.StatusNew, fmt.Errorf("read status: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return state.StatusNew, fmt.Errorf("decode status %q: %w", v, err)
	}
	return state.Status(n), nil
}

func (s *Store) SetStatus(ctx context.Context, msgHash common.Hash, status state.Status) error {
	if status == state.StatusNew {
		return s.client.HDel(ctx, s.statusKey(), msgHash.Hex()).Err()
	}
	if err := s.client.HSet(ctx, s.statusKey(), msgHash.Hex(), int32(status)).Err(); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status state.Status, limit int) ([]common.Hash, error) {
	if status == state.StatusNew {
		return nil, nil
	}
	all, err := s.client.HGetAll(ctx, s.statusKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	want := strconv.Itoa(int(status))
	var out []common.Hash
	for k, v := range all {
		if v == want {
			out = append(out, common.HexToHash(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRecalled(ctx context.Context, msgHash common.Hash) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.recalledKey(msgHash), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("mark recalled: %w", err)
	}
	return ok, nil
}

func (s *Store) UnmarkRecalled(ctx context.Context, msgHash common.Hash) error {
	return s.client.Del(ctx, s.recalledKey(msgHash)).Err()
}

func (s *Store) IsRecalled(ctx context.Context, msgHash common.Hash) (bool, error) {
	n, err := s.client.Exists(ctx, s.recalledKey(msgHash)).Result()
	if err != nil {
		return false, fmt.Errorf("read recalled: %w", err)
	}
	return n == 1, nil
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if s.ownsCli {
		return s.client.Close()
	}
	return nil
}
