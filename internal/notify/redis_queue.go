package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 告警队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 承载告警，进程重启后未投递的告警不丢失。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 告警队列。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "tickflow:alerts"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish 将告警 LPUSH 到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码告警失败")
	}
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布告警失败")
	}
	return nil
}

// Consume 通过 BRPOP 消费告警。处理失败的告警重新投递到队尾。
func (q *RedisQueue) Consume(ctx context.Context, handler AlertHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			if err == redis.Nil {
				continue
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取告警失败")
		}
		if len(values) != 2 {
			continue
		}
		var alert Alert
		if err := json.Unmarshal([]byte(values[1]), &alert); err != nil {
			// 无法解码的消息丢弃，避免毒丸阻塞队列。
			continue
		}
		if handlerErr := handler(ctx, alert); handlerErr != nil {
			_ = q.client.RPush(ctx, q.queue, values[1]).Err()
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
