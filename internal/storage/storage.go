package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/types"
)

// Storage 聚合所有存储依赖。除 CSV 外每个后端都是可选的，初始化失败只降级不报错。
type Storage struct {
	// Records 文档记录，MySQL 不可用时为内存实现
	Records RecordStore
	// Locker 同一 content_id 的处理互斥，配置 Redis 时为分布式锁
	Locker KeyedLocker
	// Rows 每种文档类型的 CSV 输出，关闭时为空
	Rows map[types.DocumentKind]*CSVRowSink

	MySQL    *MySQL
	Redis    *Redis
	Qdrant   *Qdrant
	MinIO    *MinIO
	RabbitMQ *RabbitMQ

	// 初始化失败的后端及原因
	Degraded map[string]string
	logger   zerolog.Logger
}

// NewStorage 按配置初始化存储
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	s := &Storage{
		Rows:     make(map[types.DocumentKind]*CSVRowSink),
		Degraded: make(map[string]string),
		logger:   logger.Component("storage"),
	}
	var err error

	if cfg.Redis.Address != "" {
		if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
			s.degrade("redis", err)
		}
	}
	if s.Redis != nil {
		s.Locker = s.Redis
	} else {
		s.Locker = NewLocalLocker()
	}

	if cfg.RabbitMQ.URL != "" {
		if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ); err != nil {
			s.degrade("rabbitmq", err)
		}
	}

	if cfg.MySQL.Host != "" {
		opts := []MySQLOption{WithLocker(s.Locker)}
		// 只有能投递时才写 outbox
		if s.RabbitMQ != nil {
			opts = append(opts, WithOutbox(cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.ProcessedKey))
		}
		if s.MySQL, err = NewMySQL(&cfg.MySQL, opts...); err != nil {
			s.degrade("mysql", err)
		}
	}
	if s.MySQL != nil {
		s.Records = s.MySQL
	} else {
		s.Records = NewMemoryStore()
	}

	if cfg.Qdrant.Endpoint != "" {
		var opts []QdrantOption
		if cfg.Qdrant.Distance != "" {
			opts = append(opts, WithDistanceMetric(cfg.Qdrant.Distance))
		}
		if s.Qdrant, err = NewQdrant(&cfg.Qdrant, opts...); err != nil {
			s.degrade("qdrant", err)
		}
	}
	if cfg.MinIO.Endpoint != "" {
		if s.MinIO, err = NewMinIO(&cfg.MinIO); err != nil {
			s.degrade("minio", err)
		}
	}

	if !cfg.Output.Disabled {
		for kind, path := range map[types.DocumentKind]string{
			types.KindCV:   cfg.Output.ApplicantsCSV,
			types.KindRole: cfg.Output.RolesCSV,
		} {
			sink, err := NewCSVRowSink(path, kind, cfg.Output.PrefixedHeaders)
			if err != nil {
				return nil, fmt.Errorf("打开CSV输出失败: %w", err)
			}
			s.Rows[kind] = sink
		}
	}

	s.logger.Info().
		Bool("mysql", s.MySQL != nil).
		Bool("redis", s.Redis != nil).
		Bool("qdrant", s.Qdrant != nil).
		Bool("minio", s.MinIO != nil).
		Bool("rabbitmq", s.RabbitMQ != nil).
		Bool("csv", len(s.Rows) > 0).
		Msg("存储初始化完成")
	return s, nil
}

func (s *Storage) degrade(name string, err error) {
	s.Degraded[name] = err.Error()
	s.logger.Warn().Err(err).Str("backend", name).Msg("存储后端不可用，已降级")
}

// Status 各后端是否可用，用于健康检查
func (s *Storage) Status() map[string]string {
	state := func(ok bool, name string) string {
		if ok {
			return "up"
		}
		if _, failed := s.Degraded[name]; failed {
			return "down"
		}
		return "disabled"
	}
	return map[string]string{
		"mysql":    state(s.MySQL != nil, "mysql"),
		"redis":    state(s.Redis != nil, "redis"),
		"qdrant":   state(s.Qdrant != nil, "qdrant"),
		"minio":    state(s.MinIO != nil, "minio"),
		"rabbitmq": state(s.RabbitMQ != nil, "rabbitmq"),
		"csv":      state(len(s.Rows) > 0, "csv"),
	}
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
