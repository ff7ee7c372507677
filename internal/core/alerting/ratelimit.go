package alerting

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
)

// rateLimiter caps notification volume per channel config using cache
// counters with minute and hour windows. The counters track attempted
// sends only; a send skipped by the limiter does not consume quota.
type rateLimiter struct {
	cache     cache.Service
	logger    *logrus.Logger
	perMinute int
	perHour   int
}

func newRateLimiter(cacheSvc cache.Service, logger *logrus.Logger, perMinute, perHour int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if perHour <= 0 {
		perHour = 100
	}
	return &rateLimiter{cache: cacheSvc, logger: logger, perMinute: perMinute, perHour: perHour}
}

// allow reports whether another send for the config fits within both
// windows. Cache failures allow the send; dropping notifications because
// the cache is down would be worse than briefly exceeding the cap.
func (rl *rateLimiter) allow(ctx context.Context, configID string) bool {
	return rl.counterBelow(ctx, minuteRateKey(configID), rl.perMinute) &&
		rl.counterBelow(ctx, hourlyRateKey(configID), rl.perHour)
}

func (rl *rateLimiter) counterBelow(ctx context.Context, key string, limit int) bool {
	raw, err := rl.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsNotFound(err) {
			rl.logger.WithError(err).WithField("key", key).Debug("Rate counter unavailable")
		}
		return true
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return true
	}
	return count < limit
}

// record charges one attempted send against both windows. The counter
// expiry starts with the first bump so the window slides per config.
func (rl *rateLimiter) record(ctx context.Context, configID string) {
	rl.bump(ctx, minuteRateKey(configID), time.Minute)
	rl.bump(ctx, hourlyRateKey(configID), time.Hour)
}

func (rl *rateLimiter) bump(ctx context.Context, key string, window time.Duration) {
	if _, err := rl.cache.Incr(ctx, key, window); err != nil {
		rl.logger.WithError(err).WithField("key", key).Debug("Failed to bump rate counter")
	}
}
