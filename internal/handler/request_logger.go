package handler

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	slowRequestThreshold = 100 * time.Millisecond
	sampleInterval       = 10 * time.Second
)

// RequestLogger logs failed, slow and non-200 requests every time, and
// everything else at most once per sampleInterval.
func RequestLogger(logger *zap.Logger) fiber.Handler {
	var (
		mu      sync.Mutex
		lastLog = time.Now()
	)

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)
		status := c.Response().StatusCode()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
		}

		if err != nil || latency > slowRequestThreshold || status != fiber.StatusOK {
			logger.Info("request", append(fields, zap.Error(err))...)
			return err
		}

		mu.Lock()
		if time.Since(lastLog) >= sampleInterval {
			logger.Info("sampled_request", fields...)
			lastLog = time.Now()
		}
		mu.Unlock()

		return nil
	}
}
