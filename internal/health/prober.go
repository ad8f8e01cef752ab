// Package health runs the liveness loop that promotes and demotes nodes in
// the fleet based on repeated GET /prompt probes.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"forge-router/internal/fleet"
)

const demoteThreshold = 3

// Prober periodically probes every fleet node and applies the 3-strike
// demotion / single-probe-after-demotion promotion rule.
type Prober struct {
	fleet    *fleet.Fleet
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger

	unhealthy map[string]int
}

// New constructs a Prober ticking every interval.
func New(f *fleet.Fleet, interval time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		fleet:     f,
		client:    &http.Client{Timeout: 10 * time.Second},
		interval:  interval,
		logger:    logger,
		unhealthy: make(map[string]int),
	}
}

// Run blocks, ticking every p.interval until ctx is cancelled. It never
// panics the process: a failure probing one node is logged and the loop
// continues to the next tick.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	for _, node := range p.fleet.Iter() {
		p.probe(ctx, node.URL)
	}
}

func (p *Prober) probe(ctx context.Context, url string) {
	ok := p.probeOnce(ctx, url)

	if ok {
		count := p.unhealthy[url]
		if count >= demoteThreshold {
			p.fleet.SetIdle(url)
			p.logger.Info("node recovered", "node", url)
		}
		delete(p.unhealthy, url)
		return
	}

	p.unhealthy[url]++
	if p.unhealthy[url] >= demoteThreshold {
		p.fleet.SetOffline(url)
		p.logger.Warn("node demoted to offline", "node", url, "failures", p.unhealthy[url])
	}
}

func (p *Prober) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/prompt", url), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
