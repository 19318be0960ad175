package middleware

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/atelierhub/identity-core/internal/request"
)

const defaultRateLimit = "10-M"

// RateLimit returns middleware that limits requests per client IP using
// ulule/limiter backed by Redis, so the limit holds across processes. Rate
// strings use the limiter format, e.g. "10-M" for ten per minute. Login and
// link endpoints sit behind this; identity consolidation amplifies writes,
// so it is the wrong place to absorb a credential-stuffing run.
func RateLimit(redisClient *redis.Client, rateString string) (func(http.Handler) http.Handler, error) {
	if rateString == "" {
		rateString = defaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(rateString)
	if err != nil {
		return nil, err
	}
	store, err := redisstore.NewStore(redisClient)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(store, rate)
	keyGetter := func(r *http.Request) string {
		return request.ClientIP(r)
	}
	mw := stdlibmw.NewMiddleware(instance, stdlibmw.WithKeyGetter(keyGetter))
	return mw.Handler, nil
}
