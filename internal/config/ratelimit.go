package config

import "time"

// RateLimitConfig drives the Redis token bucket in front of the API.  The
// login route gets its own, stricter bucket.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	LoginCapacity  int
	LoginRefill    time.Duration
	Debug          bool
}

func loadRateLimit(e *env) RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        e.boolean("RATE_LIMIT_ENABLED", true),
		Capacity:       e.integer("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   e.integer("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: e.dur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            e.dur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    e.str("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         e.str("RATE_LIMIT_PREFIX", "rl"),
		LoginCapacity:  e.integer("RATE_LIMIT_LOGIN_CAPACITY", 10),
		LoginRefill:    e.dur("RATE_LIMIT_LOGIN_REFILL", 6*time.Second),
		Debug:          e.boolean("RATE_LIMIT_DEBUG", false),
	}
	if b := e.integer("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if every := e.dur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		def.RefillTokens = 1
		def.RefillInterval = every
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if def.LoginCapacity < 1 {
		def.LoginCapacity = 1
	}
	if def.LoginRefill <= 0 {
		def.LoginRefill = 6 * time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

// Login returns the bucket settings for the login route.
func (c RateLimitConfig) Login() RateLimitConfig {
	l := c
	l.Capacity = c.LoginCapacity
	l.RefillTokens = 1
	l.RefillInterval = c.LoginRefill
	l.KeyStrategy = "ip_route"
	if floor := 5 * l.RefillInterval; l.TTL < floor {
		l.TTL = floor
	}
	return l
}
