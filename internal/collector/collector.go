// Package collector runs the periodic background sync that pulls recent
// wearable data for every connected principal.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/provider"
	"github.com/vitalsync/vitalsync/internal/store"
)

// RecordSink receives crawled records. Implementations decide what
// persistence or forwarding means; the collector only guarantees records
// arrive in server order per (principal, resource) batch.
type RecordSink interface {
	Consume(ctx context.Context, principalID string, resource models.Resource, records []models.RawRecord) error
}

// Collector periodically crawls every active connection for fresh data.
// Work is fanned out across principals with bounded concurrency, while the
// shared rate limiter below the crawler keeps the aggregate request rate
// inside the provider quota.
type Collector struct {
	cfg     config.SyncConfig
	store   store.Store
	crawler *provider.Crawler
	sink    RecordSink
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a collector. sink may be nil, in which case crawled records
// are counted and dropped; useful when the service runs purely as an API.
func New(cfg config.SyncConfig, s store.Store, crawler *provider.Crawler, sink RecordSink, logger *logging.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		store:   s,
		crawler: crawler,
		sink:    sink,
		logger:  logger,
	}
}

// Start launches the sync loop. Calling Start on a running collector is a
// no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.loop(c.stopCh)

	c.logger.Info("sync collector started",
		"interval", c.cfg.Interval.String(), "lookback", c.cfg.Lookback.String())
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("sync collector stopped")
}

// IsRunning reports whether the loop is active.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Collector) loop(stopCh chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.sweep(stopCh)
		}
	}
}

// sweep crawls the lookback window for every active principal and resource.
func (c *Collector) sweep(stopCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abort the sweep promptly on Stop.
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	creds := c.store.ListActiveCredentials()
	if len(creds) == 0 {
		return
	}

	now := time.Now()
	rng := models.DateRange{Start: now.Add(-c.cfg.Lookback), End: now}

	c.logger.Info("sync sweep started", "principals", len(creds))
	start := time.Now()

	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, cred := range creds {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(principalID string) {
			defer wg.Done()
			defer func() { <-sem }()
			c.syncPrincipal(ctx, principalID, rng)
		}(cred.PrincipalID)
	}
	wg.Wait()

	c.logger.Info("sync sweep finished", "principals", len(creds), "elapsed", time.Since(start).String())
}

func (c *Collector) syncPrincipal(ctx context.Context, principalID string, rng models.DateRange) {
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())

	for _, resource := range models.AllResources {
		if ctx.Err() != nil {
			return
		}

		records, err := c.crawler.Collect(ctx, principalID, resource, rng)
		if err != nil {
			// One principal's dead credential or a provider outage must
			// not abort the sweep for everyone else.
			c.logger.WarnWithContext(ctx, "sync crawl failed",
				"principal_id", principalID, "resource", string(resource), "error", err.Error())
			if !provider.IsRetryable(err) {
				return
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		if c.sink != nil {
			if err := c.sink.Consume(ctx, principalID, resource, records); err != nil {
				c.logger.ErrorWithContext(ctx, "record sink failed",
					"principal_id", principalID, "resource", string(resource), "error", err.Error())
			}
			continue
		}
		c.logger.DebugWithContext(ctx, "records collected",
			"principal_id", principalID, "resource", string(resource), "records", len(records))
	}
}
