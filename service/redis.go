package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func resultKeys(md5 string, tier model.QualityTier) (string, string) {
	suffix := md5 + ":" + string(tier)
	return "matte:png:" + suffix, "matte:report:" + suffix
}

// GetResult 从缓存获取抠图结果，未命中返回 nil
func (s *RedisService) GetResult(ctx context.Context, md5 string, tier model.QualityTier) (*model.RemovalResult, error) {
	pngKey, reportKey := resultKeys(md5, tier)

	var pngCmd, reportCmd *redis.StringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pngCmd = pipe.Get(ctx, pngKey)
		reportCmd = pipe.Get(ctx, reportKey)
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	png, err := pngCmd.Bytes()
	if err != nil {
		return nil, err
	}

	var report model.RemovalReport
	if err := json.Unmarshal([]byte(reportCmd.Val()), &report); err != nil {
		utils.Logger.Error("failed to unmarshal removal report",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &model.RemovalResult{PNG: png, Report: &report, Cached: true}, nil
}

// SetResult 把 PNG 和处理记录写入缓存
func (s *RedisService) SetResult(ctx context.Context, md5 string, tier model.QualityTier, result *model.RemovalResult) error {
	data, err := json.Marshal(result.Report)
	if err != nil {
		return err
	}

	pngKey, reportKey := resultKeys(md5, tier)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, pngKey, result.PNG, s.ttl)
		pipe.Set(ctx, reportKey, data, s.ttl)
		return nil
	})
	return err
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
