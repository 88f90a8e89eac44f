package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the directory in two Redis hashes, one for agents and
// one for tool servers, with JSON-encoded values.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("directory: redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("directory: redis: ping: %w", err)
	}
	return NewRedisStoreFromClient(client, "junction"), nil
}

// NewRedisStoreFromClient wraps an existing client. Keys are namespaced
// under prefix.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// agentsKey returns the hash holding agent entries.
func (s *RedisStore) agentsKey() string {
	return s.prefix + ":agents"
}

// toolsKey returns the hash holding tool servers.
func (s *RedisStore) toolsKey() string {
	return s.prefix + ":tools"
}

func (s *RedisStore) Register(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	existing, found, err := s.GetInfo(ctx, e.AgentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(merge(existing, found, e, s.now()))
	if err != nil {
		return fmt.Errorf("directory: redis: encode %s: %w", e.AgentID, err)
	}
	if err := s.client.HSet(ctx, s.agentsKey(), e.AgentID, data).Err(); err != nil {
		return fmt.Errorf("directory: redis: register %s: %w", e.AgentID, err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, agentID string) (string, bool, error) {
	e, ok, err := s.GetInfo(ctx, agentID)
	return e.Address, ok, err
}

func (s *RedisStore) GetInfo(ctx context.Context, agentID string) (Entry, bool, error) {
	raw, err := s.client.HGet(ctx, s.agentsKey(), agentID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("directory: redis: get %s: %w", agentID, err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, fmt.Errorf("directory: redis: decode %s: %w", agentID, err)
	}
	return e, true, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	all, err := s.client.HGetAll(ctx, s.agentsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("directory: redis: list: %w", err)
	}
	out := make([]Entry, 0, len(all))
	for id, raw := range all {
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("directory: redis: decode %s: %w", id, err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *RedisStore) Unregister(ctx context.Context, agentID string) (bool, error) {
	n, err := s.client.HDel(ctx, s.agentsKey(), agentID).Result()
	if err != nil {
		return false, fmt.Errorf("directory: redis: unregister %s: %w", agentID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) RegisterTool(ctx context.Context, srv ToolServer) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	if srv.Transport == "" {
		srv.Transport = TransportHTTP
	}
	data, err := json.Marshal(srv)
	if err != nil {
		return fmt.Errorf("directory: redis: encode %s: %w", srv.Key(), err)
	}
	if err := s.client.HSet(ctx, s.toolsKey(), srv.Key(), data).Err(); err != nil {
		return fmt.Errorf("directory: redis: register tool %s: %w", srv.Key(), err)
	}
	return nil
}

func (s *RedisStore) LookupTool(ctx context.Context, provider, name string) (ToolServer, bool, error) {
	raw, err := s.client.HGet(ctx, s.toolsKey(), provider+":"+name).Result()
	if err == nil {
		var srv ToolServer
		if err := json.Unmarshal([]byte(raw), &srv); err != nil {
			return ToolServer{}, false, fmt.Errorf("directory: redis: decode tool %s:%s: %w", provider, name, err)
		}
		return srv, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return ToolServer{}, false, fmt.Errorf("directory: redis: lookup tool %s:%s: %w", provider, name, err)
	}

	all, err := s.ListTools(ctx)
	if err != nil {
		return ToolServer{}, false, err
	}
	srv, ok := findTool(all, provider, name)
	return srv, ok, nil
}

func (s *RedisStore) ListTools(ctx context.Context) ([]ToolServer, error) {
	all, err := s.client.HGetAll(ctx, s.toolsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("directory: redis: list tools: %w", err)
	}
	out := make([]ToolServer, 0, len(all))
	for key, raw := range all {
		var srv ToolServer
		if err := json.Unmarshal([]byte(raw), &srv); err != nil {
			return nil, fmt.Errorf("directory: redis: decode tool %s: %w", key, err)
		}
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func decodeEntry(raw string) (Entry, error) {
	var e Entry
	err := json.Unmarshal([]byte(raw), &e)
	return e, err
}
