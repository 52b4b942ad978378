package taskregistry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"feedpipe/domain"
)

const (
	defaultRedisKey     = "feedpipe:periodic-tasks"
	defaultRedisTimeout = 2 * time.Second
)

// Redis keeps every task as one field of a hash, encoded as JSON.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// DialRedis connects and pings the server at addr.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return client, nil
}

func (r *Redis) Upsert(ctx context.Context, task domain.PeriodicTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()
	return r.client.HSet(ctx, r.key, task.Name, payload).Err()
}

func (r *Redis) Delete(ctx context.Context, name, task string, args []string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	payload, err := r.client.HGet(ctx, r.key, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var stored domain.PeriodicTask
	if err := json.Unmarshal(payload, &stored); err != nil {
		return 0, errors.Wrapf(err, "decode task %s", name)
	}
	if !matches(stored, task, args) {
		return 0, nil
	}
	n, err := r.client.HDel(ctx, r.key, name).Result()
	return int(n), err
}

func (r *Redis) List(ctx context.Context) ([]domain.PeriodicTask, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PeriodicTask, 0, len(fields))
	for name, payload := range fields {
		var t domain.PeriodicTask
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, errors.Wrapf(err, "decode task %s", name)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ domain.TaskRegistry = (*Redis)(nil)
