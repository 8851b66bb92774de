package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IdleCheckInterval is how often the reclamation loop runs.
const IdleCheckInterval = 120 * time.Second

// IdleTimeout is how long a free connection may sit unused before the
// reclamation loop closes it.
const IdleTimeout = 5 * time.Minute

// AcquireTimeout bounds how long Acquire waits for a free slot before
// failing with ErrPoolExhausted.
const AcquireTimeout = CommandTimeout

// ErrPoolExhausted is returned when Acquire cannot obtain a connection
// within AcquireTimeout; the HTTP layer maps this to 429.
var ErrPoolExhausted = fmt.Errorf("exclusive pool: too many concurrent clients")

// ErrClosed is returned by Acquire after Shutdown.
var ErrClosed = fmt.Errorf("exclusive pool: closed")

type member struct {
	client   *redis.Client
	lastUsed time.Time
}

// Conn is a checked-out exclusive connection. Callers must call Release
// on every exit path, including errors and panics recovered upstream.
type Conn struct {
	Client *redis.Client

	pool *ExclusivePool
	m    *member
}

// Release returns the connection to its pool's free list.
func (c *Conn) Release() {
	c.pool.release(c.m)
}

// ExclusivePool is a bounded pool of single-owner Redis connections used
// for blocking XREAD calls and streaming ingest. It admits at most
// maxSize concurrent checkouts; beyond that, Acquire blocks up to
// AcquireTimeout and then fails. A token-bucket limiter additionally
// smooths the *rate* of new admissions, generalizing the rate-limiting
// dependency this codebase's gateway middleware already carries for
// HTTP request throttling into an admission-control role here.
type ExclusivePool struct {
	redisURL string
	maxSize  int
	logger   *zap.Logger

	sem     chan struct{}
	limiter *rate.Limiter

	mu     sync.Mutex
	free   []*member
	closed bool

	stopIdle chan struct{}
	idleDone chan struct{}
}

// NewExclusive builds a pool capped at maxSize concurrent connections
// against redisURL.
func NewExclusive(redisURL string, maxSize int, logger *zap.Logger) *ExclusivePool {
	p := &ExclusivePool{
		redisURL: redisURL,
		maxSize:  maxSize,
		logger:   logger,
		sem:      make(chan struct{}, maxSize),
		limiter:  rate.NewLimiter(rate.Limit(maxSize), maxSize),
		stopIdle: make(chan struct{}),
		idleDone: make(chan struct{}),
	}
	go p.idleLoop()
	return p
}

// Acquire waits for a free slot, admits at the limiter's rate, and
// returns a ready connection (reused from the free list when possible,
// after a liveness PING). Failing to obtain a slot within
// AcquireTimeout returns ErrPoolExhausted.
func (p *ExclusivePool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	acqCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()

	if err := p.limiter.Wait(acqCtx); err != nil {
		return nil, ErrPoolExhausted
	}

	select {
	case p.sem <- struct{}{}:
	case <-acqCtx.Done():
		return nil, ErrPoolExhausted
	}

	m, err := p.take(acqCtx)
	if err != nil {
		<-p.sem
		return nil, err
	}
	return &Conn{Client: m.client, pool: p, m: m}, nil
}

// take pops a live connection from the free list, recreating it if a
// liveness PING fails, or creates a brand-new one when the free list is
// empty.
func (p *ExclusivePool) take(ctx context.Context) (*member, error) {
	p.mu.Lock()
	var m *member
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if m != nil {
		if err := m.client.Ping(ctx).Err(); err != nil {
			_ = m.client.Close()
			m = nil
		}
	}
	if m == nil {
		client, err := p.dial()
		if err != nil {
			return nil, fmt.Errorf("dial exclusive connection: %w", err)
		}
		m = &member{client: client}
	}
	return m, nil
}

func (p *ExclusivePool) dial() (*redis.Client, error) {
	opts, err := redis.ParseURL(p.redisURL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = 1
	opts.DialTimeout = CommandTimeout
	// ReadTimeout 0 keeps go-redis's default for ordinary commands; for a
	// blocking XREAD go-redis extends the read deadline by the Block
	// duration, so the tail loop's own blockMs bounds that wait.
	opts.ReadTimeout = 0
	opts.WriteTimeout = CommandTimeout
	return redis.NewClient(opts), nil
}

func (p *ExclusivePool) release(m *member) {
	m.lastUsed = time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = m.client.Close()
		<-p.sem
		return
	}
	p.free = append(p.free, m)
	p.mu.Unlock()
	<-p.sem
}

// InUse reports the number of currently checked-out connections, for
// the pool-occupancy gauge.
func (p *ExclusivePool) InUse() int {
	return len(p.sem)
}

func (p *ExclusivePool) idleLoop() {
	defer close(p.idleDone)
	ticker := time.NewTicker(IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopIdle:
			return
		case <-ticker.C:
			p.reclaimIdle()
		}
	}
}

func (p *ExclusivePool) reclaimIdle() {
	cutoff := time.Now().Add(-IdleTimeout)
	p.mu.Lock()
	kept := p.free[:0]
	var evicted []*member
	for _, m := range p.free {
		if m.lastUsed.Before(cutoff) {
			evicted = append(evicted, m)
		} else {
			kept = append(kept, m)
		}
	}
	p.free = kept
	p.mu.Unlock()

	for _, m := range evicted {
		_ = m.client.Close()
	}
	if len(evicted) > 0 && p.logger != nil {
		p.logger.Debug("reclaimed idle exclusive connections", zap.Int("count", len(evicted)))
	}
}

// Shutdown stops idle reclamation and closes every free connection.
// In-flight checkouts are expected to be released by their own
// context-cancellation path and will be closed on release.
func (p *ExclusivePool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	close(p.stopIdle)
	<-p.idleDone

	for _, m := range free {
		_ = m.client.Close()
	}
}
