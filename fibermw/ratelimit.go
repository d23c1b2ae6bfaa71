package fibermw

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/ratelimit"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

// RateLimitConfig describes one limited resource.
type RateLimitConfig struct {
	Resource string
	Limit    int64
	Window   time.Duration
	// Actor defaults to IPActor.
	Actor ActorFunc
	// Logger receives limiter failures. Requests fail open when the counter store is down.
	Logger reliable.Logger
}

// RateLimit rejects callers over cfg.Limit in the current window with 429 and Retry-After.
func RateLimit(limiter *ratelimit.Limiter, cfg RateLimitConfig) fiber.Handler {
	if limiter == nil {
		panic("fibermw: nil Limiter")
	}
	if cfg.Actor == nil {
		cfg.Actor = IPActor
	}
	cfg.Logger = reliable.LoggerOrNop(cfg.Logger)

	return func(c *fiber.Ctx) error {
		actor := cfg.Actor(c)
		if actor == "" {
			return respondError(c, fiber.StatusUnauthorized, "actor_required", "The caller could not be identified.")
		}

		decision, err := limiter.CheckAndIncrement(c.UserContext(), ratelimit.Request{
			ActorID:  actor,
			Resource: cfg.Resource,
			Limit:    cfg.Limit,
			Window:   cfg.Window,
		})
		if err != nil {
			cfg.Logger.Warn("rate limit check failed", "resource", cfg.Resource, "err", err)

			return c.Next()
		}

		c.Set(headerLimit, strconv.FormatInt(decision.Limit, 10))
		c.Set(headerRemaining, strconv.FormatInt(decision.Remaining(), 10))
		c.Set(headerReset, strconv.FormatInt(decision.WindowEnd.Unix(), 10))
		if !decision.Allowed {
			c.Set(headerRetryAfter, strconv.FormatInt(decision.RetryAfterSeconds(), 10))

			return respondError(c, fiber.StatusTooManyRequests, "rate_limited", "Too many requests. Retry after the indicated delay.")
		}

		return c.Next()
	}
}
