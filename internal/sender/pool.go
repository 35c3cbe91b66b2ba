package sender

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumamail/pipeline/internal/domain"
	"github.com/lumamail/pipeline/internal/pkg/distlock"
	"github.com/lumamail/pipeline/internal/pkg/logger"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultClaimBatch   = 10
	campaignLockTTL     = 10 * time.Minute
	lockContendedDelay  = 15 * time.Second
)

// Claimer pulls due work items from the dispatch queue.
type Claimer interface {
	Claim(ctx context.Context, workerID string, limit int) ([]domain.DispatchWorkItem, error)
}

// LockFactory builds a per-campaign distributed lock. nil disables
// locking (single-worker deployments).
type LockFactory func(campaignID string) distlock.Lock

// CampaignLocks builds the default lock factory: Redis when a client is
// configured, Postgres advisory locks otherwise.
func CampaignLocks(client *redis.Client, db *sql.DB) LockFactory {
	return func(campaignID string) distlock.Lock {
		return distlock.New(client, db, "lock:campaign:"+campaignID, campaignLockTTL)
	}
}

// Pool runs a fixed number of workers that claim and process dispatch
// work items in parallel.
type Pool struct {
	queue  Claimer
	sender *Sender
	locks  LockFactory

	workerID     string
	numWorkers   int
	claimBatch   int
	pollInterval time.Duration

	processed int64
	failed    int64
	skipped   int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	log *logger.Logger
}

func NewPool(q Claimer, s *Sender, locks LockFactory, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Pool{
		queue:        q,
		sender:       s,
		locks:        locks,
		workerID:     "worker-" + uuid.New().String()[:8],
		numWorkers:   numWorkers,
		claimBatch:   defaultClaimBatch,
		pollInterval: defaultPollInterval,
		log:          logger.With("SenderPool"),
	}
}

// Start launches the worker goroutines. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.log.Info("starting", "workers", p.numWorkers, "worker_id", p.workerID)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the pool: in-flight items finish, no new claims happen.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("stopped",
		"processed", atomic.LoadInt64(&p.processed),
		"failed", atomic.LoadInt64(&p.failed),
		"skipped", atomic.LoadInt64(&p.skipped))
}

// Stats returns cumulative counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&p.processed),
		"failed":    atomic.LoadInt64(&p.failed),
		"skipped":   atomic.LoadInt64(&p.skipped),
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	id := fmt.Sprintf("%s-%d", p.workerID, n)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		items, err := p.queue.Claim(p.ctx, id, p.claimBatch)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Error("claim failed", "worker", id, "error", err.Error())
			p.sleep(time.Second)
			continue
		}
		if len(items) == 0 {
			p.sleep(p.pollInterval)
			continue
		}

		for _, item := range items {
			p.processItem(item)
		}
	}
}

func (p *Pool) processItem(item domain.DispatchWorkItem) {
	if p.locks != nil {
		lock := p.locks(item.CampaignID)
		ok, err := lock.TryAcquire(p.ctx)
		if err != nil {
			p.log.Error("campaign lock error", "campaign", item.CampaignID, "error", err.Error())
		}
		if !ok {
			// Another worker owns this campaign right now; bounce the item
			// to a later pass without spending an attempt.
			atomic.AddInt64(&p.skipped, 1)
			p.sender.queue.Requeue(p.ctx, item.ID, "campaign locked", lockContendedDelay)
			return
		}
		defer lock.Release(p.ctx)
	}

	if err := p.sender.Process(p.ctx, item); err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.log.Error("item processing failed", "item", item.ID, "error", err.Error())
		return
	}
	atomic.AddInt64(&p.processed, 1)
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
