package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"cv-extractor/internal/config"
	"cv-extractor/internal/constants"
	"cv-extractor/internal/tracing"
	"cv-extractor/internal/types"
)

var redisTracer = otel.Tracer("cv-extractor/storage/redis")

// 锁重试间隔
const lockRetryInterval = 50 * time.Millisecond

// 释放锁: 只有持有者才能删除
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis 封装 Redis 客户端: 已处理 content_id 缓存与分布式锁
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

var _ KeyedLocker = (*Redis)(nil)

// NewRedisAdapter 创建 Redis 连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	}
	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// ProcessedExpire 已处理集合的过期时间
func (r *Redis) ProcessedExpire() time.Duration {
	days := r.config.ProcessedExpireDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// LockTTL 文档锁的过期时间
func (r *Redis) LockTTL() time.Duration {
	return config.GetDuration(r.config.LockTTL, 5*time.Minute)
}

func processedKey(kind types.DocumentKind) string {
	return fmt.Sprintf(constants.KeyProcessedSet, kind)
}

// MarkProcessed 把 content_id 加入已处理集合
func (r *Redis) MarkProcessed(ctx context.Context, kind types.DocumentKind, contentID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	key := processedKey(kind)
	pipe := r.Client.Pipeline()
	pipe.SAdd(ctx, key, contentID)
	pipe.ExpireNX(ctx, key, r.ProcessedExpire())
	_, err := pipe.Exec(ctx)
	return err
}

// IsProcessed 查询已处理集合。集合只是缓存，未命中不代表记录不存在。
func (r *Redis) IsProcessed(ctx context.Context, kind types.DocumentKind, contentID string) (bool, error) {
	ctx, span := redisTracer.Start(ctx, "Redis.IsProcessed", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SISMEMBER"),
		attribute.String("db.redis.key", tracing.SafeRedisKey(processedKey(kind))),
	)

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	ok, err := r.Client.SIsMember(ctx, processedKey(kind), contentID).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("already_processed", ok))
	return ok, nil
}

// AcquireLock 尝试获取分布式锁，未获得时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseLock 释放分布式锁
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := r.Client.Eval(ctx, releaseLockScript, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}
	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	return false, nil
}

// Lock 实现 KeyedLocker，轮询 SETNX 直到获得锁或 ctx 结束
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := constants.KeyDocumentLockPrefix + key
	ttl := r.LockTTL()
	for {
		value, err := r.AcquireLock(ctx, lockKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("获取分布式锁失败: %w", err)
		}
		if value != "" {
			return func() {
				// 释放时 ctx 可能已取消
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_, _ = r.ReleaseLock(releaseCtx, lockKey, value)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
