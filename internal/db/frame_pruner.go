package db

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// FramePruner periodically clears stored frame bytes older than Retention.
// Detection records are kept; only their images go. A Retention of 0 keeps
// every frame.
type FramePruner struct {
	DB        *DB
	Retention time.Duration
	Interval  time.Duration
	Clock     timeutil.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFramePruner creates a pruner with a six hour interval. Call Start to
// begin the background loop.
func NewFramePruner(db *DB, retention time.Duration) *FramePruner {
	return &FramePruner{
		DB:        db,
		Retention: retention,
		Interval:  6 * time.Hour,
		Clock:     timeutil.RealClock{},
	}
}

// Start prunes once immediately and then on every Interval until ctx is
// cancelled or Stop is called.
func (p *FramePruner) Start(ctx context.Context) {
	p.done = make(chan struct{})
	if p.Retention <= 0 {
		log.Printf("frame pruner disabled (retention=0)")
		close(p.done)
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
	log.Printf("frame pruner started (retention=%v, interval=%v)", p.Retention, p.Interval)
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *FramePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

func (p *FramePruner) loop(ctx context.Context) {
	defer close(p.done)

	if _, err := p.RunOnce(ctx); err != nil {
		log.Printf("frame prune error: %v", err)
	}

	ticker := p.Clock.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := p.RunOnce(ctx); err != nil {
				log.Printf("frame prune error: %v", err)
			}
		}
	}
}

// RunOnce clears frames older than the retention window.
func (p *FramePruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.Clock.Now().UTC().Add(-p.Retention)
	n, err := p.DB.PruneFrames(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("frame prune: cleared %d frames older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
