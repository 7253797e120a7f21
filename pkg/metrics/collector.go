package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultCollectInterval is how often the store gauge is refreshed
const DefaultCollectInterval = 15 * time.Second

// StoreLister is the part of the store repository the collector reads
type StoreLister interface {
	ListStores(ctx context.Context) ([]*types.StoreRecord, error)
}

// Collector refreshes the stores-by-status gauge from the repository
type Collector struct {
	stores   StoreLister
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	logger   zerolog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(stores StoreLister) *Collector {
	return &Collector{
		stores:   stores,
		interval: DefaultCollectInterval,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("metrics"),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	c.done = make(chan struct{})
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.done)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.done != nil {
		<-c.done
	}
}

// Collect counts stores per status once. Every known status is set so
// that a status whose last store left it drops back to zero.
func (c *Collector) Collect(ctx context.Context) {
	stores, err := c.stores.ListStores(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list stores")
		return
	}

	counts := map[types.Status]int{
		types.StatusRequested:    0,
		types.StatusProvisioning: 0,
		types.StatusReady:        0,
		types.StatusFailed:       0,
		types.StatusDeleting:     0,
		types.StatusDeleted:      0,
	}
	for _, s := range stores {
		counts[s.Status]++
	}

	for status, count := range counts {
		StoresTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
