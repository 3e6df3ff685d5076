package storage

import (
	"context"
	"fmt"
	"log"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// Storage 聚合所有存储依赖。Qdrant 必需，其余组件按配置启用，初始化失败时降级为 nil。
type Storage struct {
	Qdrant   *Qdrant
	Redis    *Redis
	MinIO    *MinIO
	Catalog  *Catalog
	RabbitMQ *RabbitMQ
}

// NewStorage 创建存储管理器
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error

	s.Qdrant, err = NewQdrant(&cfg.Qdrant, WithQdrantLogger(logger.StdLogger("[Qdrant] ")))
	if err != nil {
		return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
	}

	if cfg.Redis.Enabled {
		if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，向量缓存和任务状态不可用")
			s.Redis = nil
		}
	}

	if cfg.MinIO.Enabled {
		if s.MinIO, err = NewMinIO(&cfg.MinIO, logger.StdLogger("")); err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败，不保存中间产物")
			s.MinIO = nil
		}
	}

	if cfg.MySQL.Enabled {
		if s.Catalog, err = NewCatalog(&cfg.MySQL); err != nil {
			logger.Warn().Err(err).Str("driver", cfg.MySQL.Driver).Msg("初始化索引目录失败")
			s.Catalog = nil
		}
	}

	if cfg.RabbitMQ.Enabled {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger.StdLogger("[RabbitMQ] "))
		if err == nil {
			err = s.RabbitMQ.SetupIndexTopology()
		}
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，异步索引不可用")
			if s.RabbitMQ != nil {
				_ = s.RabbitMQ.Close()
			}
			s.RabbitMQ = nil
		}
	}

	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.Catalog != nil {
		if err := s.Catalog.Close(); err != nil {
			log.Printf("关闭数据库连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
}
