package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner runs the readiness checkers with a per-probe timeout and
// caches the verdict briefly so an aggressive orchestrator cannot hammer the
// dependencies through the probe endpoint.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu        sync.Mutex
	cachedAt  time.Time
	cachedOK  bool
	cachedRes []CheckResult
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cacheTTL > 0 && time.Since(p.cachedAt) < p.cacheTTL && p.cachedRes != nil {
		return p.cachedOK, p.cachedRes
	}

	ok := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, checker := range p.checkers {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		res := checker.Check(probeCtx)
		cancel()
		if !res.Healthy {
			ok = false
		}
		results = append(results, res)
	}

	p.cachedAt = time.Now()
	p.cachedOK = ok
	p.cachedRes = results
	return ok, results
}

type dbChecker struct{ db *gorm.DB }

func NewDatabaseChecker(db *gorm.DB) Checker { return dbChecker{db: db} }

func (c dbChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Name: "database"}
	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = true
	return res
}

type redisChecker struct{ client redis.UniversalClient }

func NewRedisChecker(client redis.UniversalClient) Checker { return redisChecker{client: client} }

func (c redisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Name: "redis"}
	err := c.client.Ping(ctx).Err()
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = true
	return res
}
