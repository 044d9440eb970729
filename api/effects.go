package api

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type effectJob struct {
	name    string
	fn      func(context.Context) error
	attempt int
}

type effectsConfig struct {
	workerCount    int
	bufferSize     int
	runTimeout     time.Duration
	handoffTimeout time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	maxAttempts    int
}

func effectsConfigFromEnv() effectsConfig {
	return effectsConfig{
		workerCount:    envInt("EFFECT_WORKERS", 8),
		bufferSize:     envInt("EFFECT_BUFFER", 1024),
		runTimeout:     envDur("EFFECT_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("EFFECT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		retryInitial:   envDur("EFFECT_RETRY_INITIAL", 250*time.Millisecond),
		retryMax:       envDur("EFFECT_RETRY_MAX", 30*time.Second),
		maxAttempts:    envInt("EFFECT_MAX_ATTEMPTS", 5),
	}
}

// Effects runs detached side effects (audit records, push notifications)
// on a bounded worker pool. Jobs that fail are retried with exponential
// backoff up to a fixed attempt limit; a failing effect never propagates
// back into the request that spawned it.
type Effects struct {
	cfg    effectsConfig
	logger *log.Logger

	workCh   chan *effectJob
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	mu      sync.Mutex
	closing bool

	dropped   atomic.Uint64
	abandoned atomic.Uint64

	onAbandon func(name string, attempts int, err error)
}

// NewEffects builds and starts a pool sized from the environment.
func NewEffects(logger *log.Logger) *Effects {
	return newEffects(effectsConfigFromEnv(), logger)
}

func newEffects(cfg effectsConfig, logger *log.Logger) *Effects {
	if logger == nil {
		panic("effects pool requires a logger")
	}
	if cfg.workerCount <= 0 {
		cfg.workerCount = 1
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = cfg.workerCount * 16
	}
	if cfg.runTimeout <= 0 {
		cfg.runTimeout = 30 * time.Second
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = 1
	}

	e := &Effects{
		cfg:    cfg,
		logger: logger,
		workCh: make(chan *effectJob, cfg.bufferSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.workerCount; i++ {
		e.workerWG.Add(1)
		go e.worker(i)
	}
	logger.Infof("effects pool started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.workerCount, cfg.bufferSize, cfg.runTimeout, cfg.handoffTimeout)
	return e
}

// SetAbandonObserver registers a hook invoked when a job exhausts its
// attempts. Intended for tests and alerting.
func (e *Effects) SetAbandonObserver(fn func(name string, attempts int, err error)) {
	e.onAbandon = fn
}

// Submit hands the effect to the pool. It returns false when the pool is
// saturated or shutting down; the effect is then dropped and logged.
func (e *Effects) Submit(name string, fn func(context.Context) error) bool {
	job := &effectJob{name: name, fn: fn}
	if e.dispatch(job) {
		return true
	}
	e.dropped.Add(1)
	e.logger.Errorf("effect dropped, pool saturated, name: %s", name)
	return false
}

func (e *Effects) dispatch(job *effectJob) bool {
	select {
	case <-e.stopCh:
		return false
	default:
	}

	select {
	case e.workCh <- job:
		return true
	default:
	}

	if e.cfg.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(e.cfg.handoffTimeout)
	defer timer.Stop()
	select {
	case e.workCh <- job:
		return true
	case <-timer.C:
		return false
	case <-e.stopCh:
		return false
	}
}

func (e *Effects) worker(id int) {
	defer e.workerWG.Done()
	for job := range e.workCh {
		if job == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.runTimeout)
		err := job.fn(ctx)
		cancel()
		if err == nil {
			continue
		}

		job.attempt++
		if job.attempt >= e.cfg.maxAttempts {
			e.abandoned.Add(1)
			e.logger.Errorf("effect abandoned, err: %v, name: %s, attempts: %d, worker: %d", err, job.name, job.attempt, id)
			if e.onAbandon != nil {
				e.onAbandon(job.name, job.attempt, err)
			}
			continue
		}
		e.logger.Warnf("effect failed, will retry, err: %v, name: %s, attempt: %d", err, job.name, job.attempt)
		e.scheduleRetry(job)
	}
}

func (e *Effects) scheduleRetry(job *effectJob) {
	delay := exponentialBackoff(job.attempt, e.cfg.retryInitial, e.cfg.retryMax)
	timer := time.NewTimer(delay)
	e.retryWG.Add(1)
	go func(j *effectJob) {
		defer e.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case e.workCh <- j:
			case <-e.stopCh:
			}
		case <-e.stopCh:
		}
	}(job)
}

// Shutdown stops accepting jobs and waits for in-flight ones to finish.
func (e *Effects) Shutdown() {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.closing = true
	close(e.stopCh)
	e.mu.Unlock()

	e.retryWG.Wait()
	close(e.workCh)
	e.workerWG.Wait()
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
