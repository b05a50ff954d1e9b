package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/delivery-service/internal/auth"
	"github.com/fathima-sithara/delivery-service/internal/domain"
)

const (
	localUser   = "user_id"
	localDevice = "device"
)

// RequireAuth verifies the bearer token and stores the caller's identity in
// the request locals. X-Device overrides the token's device class.
func RequireAuth(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hdr := c.Get(fiber.HeaderAuthorization)
		if hdr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing auth"})
		}
		token, ok := auth.BearerToken(hdr)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid auth"})
		}
		id, err := v.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": err.Error()})
		}

		device := id.Device
		if h := strings.TrimSpace(c.Get("X-Device")); h != "" {
			d, err := domain.ParseDeviceClass(h)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
			}
			device = d
		}
		c.Locals(localUser, id.UserID)
		c.Locals(localDevice, device)
		return c.Next()
	}
}

func userID(c *fiber.Ctx) string {
	s, _ := c.Locals(localUser).(string)
	return s
}

func device(c *fiber.Ctx) domain.DeviceClass {
	d, _ := c.Locals(localDevice).(domain.DeviceClass)
	return d
}

// RateLimiter applies a token bucket per authenticated user. A nil
// limiter lets everything through.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	used time.Time
}

// NewRateLimiter returns nil when perMinute is not positive.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

func (l *RateLimiter) Allow(user string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[user]
	if !ok {
		l.evict(now)
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[user] = b
	}
	b.used = now
	return b.lim.AllowN(now, 1)
}

// evict drops buckets idle for longer than ttl; they would be full again.
func (l *RateLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.used) > l.ttl {
			delete(l.buckets, k)
		}
	}
}

func (l *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(userID(c)) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"success": false, "error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
