package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/allegro/bigcache/v3"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// NewRunPool создает пул из одного воркера для запусков конвейера.
// queueSize - сколько запросов могут ждать своей очереди; при 0 занятый пул сразу отказывает.
func NewRunPool(queueSize int, logger *zap.Logger) (*ants.Pool, error) {
	panicHandler := func(p any) {
		logger.Error("Panic in story run pool", zap.Any("panic", p))
	}

	opts := []ants.Option{ants.WithPanicHandler(panicHandler)}
	if queueSize > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(queueSize))
	} else {
		opts = append(opts, ants.WithNonblocking(true))
	}

	pool, err := ants.NewPool(1, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create story run pool: %w", err)
	}
	return pool, nil
}

// NewSummaryCache создает in-memory кэш сводок. ttl <= 0 выключает кэш (nil, nil).
func NewSummaryCache(ctx context.Context, ttl time.Duration) (*bigcache.BigCache, error) {
	if ttl <= 0 {
		return nil, nil
	}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 2048
	cfg.HardMaxCacheSize = 64 // MB
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}
	return cache, nil
}

// NewRateLimiter ограничивает запросы к провайдерам по IP клиента. limitPerMinute <= 0 - без ограничения (nil).
func NewRateLimiter(limitPerMinute int, logger *zap.Logger) gin.HandlerFunc {
	if limitPerMinute <= 0 {
		return nil
	}

	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: uint(limitPerMinute),
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			logger.Warn("Rate limit exceeded",
				zap.String("clientIP", c.ClientIP()),
				zap.Time("resetTime", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
			})
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
