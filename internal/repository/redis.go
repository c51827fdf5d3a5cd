package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"visitortracker/internal/model"
)

const (
	locationKeyPrefix = "geo:"
	publicIPKey       = "publicip"
)

type RedisRepository struct {
	client      *redis.Client
	logger      *zap.Logger
	locationTTL time.Duration
	publicIPTTL time.Duration
}

func NewRedisRepository(client *redis.Client, locationTTL, publicIPTTL time.Duration, logger *zap.Logger) *RedisRepository {
	return &RedisRepository{
		client:      client,
		logger:      logger,
		locationTTL: locationTTL,
		publicIPTTL: publicIPTTL,
	}
}

func (r *RedisRepository) SetLocation(ctx context.Context, ip string, loc model.Location) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return err
	}

	err = r.client.Set(ctx, locationKeyPrefix+ip, payload, r.locationTTL).Err()
	if err != nil {
		r.logger.Error("failed to set location in cache",
			zap.String("ip", ip),
			zap.Error(err))
	}
	return err
}

// GetLocation returns ok=false on a cache miss.
func (r *RedisRepository) GetLocation(ctx context.Context, ip string) (model.Location, bool, error) {
	var loc model.Location

	payload, err := r.client.Get(ctx, locationKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return loc, false, nil
	}
	if err != nil {
		r.logger.Error("failed to get location from cache",
			zap.String("ip", ip),
			zap.Error(err))
		return loc, false, err
	}

	if err := json.Unmarshal(payload, &loc); err != nil {
		return model.Location{}, false, err
	}
	return loc, true, nil
}

func (r *RedisRepository) SetPublicIP(ctx context.Context, ip string) error {
	return r.client.Set(ctx, publicIPKey, ip, r.publicIPTTL).Err()
}

func (r *RedisRepository) GetPublicIP(ctx context.Context) (string, error) {
	ip, err := r.client.Get(ctx, publicIPKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return ip, err
}
