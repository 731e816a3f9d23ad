package occupancy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// SnapshotSource fetches still images from an IP camera's snapshot URL.
// Reinitialize drops idle connections so the next fetch dials afresh.
type SnapshotSource struct {
	URL     string
	Timeout time.Duration
	Client  httputil.HTTPClient
	Clock   timeutil.Clock

	mu  sync.Mutex
	seq uint64
}

// NewSnapshotSource returns a source using its own http.Client.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	return &SnapshotSource{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		Clock:   timeutil.RealClock{},
	}
}

// NextFrame implements FrameSource. Any transport failure, non-2xx status or
// empty body is reported as ErrFrameUnavailable.
func (s *SnapshotSource) NextFrame(ctx context.Context) (Frame, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	data, err := httputil.ReadBody(resp)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty snapshot", ErrFrameUnavailable)
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return Frame{Seq: seq, At: clock.Now(), Data: data}, nil
}

// Reinitialize implements FrameSource.
func (s *SnapshotSource) Reinitialize(ctx context.Context) error {
	if c, ok := s.Client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	monitoring.Logf("occupancy: snapshot source %s reset", s.URL)
	return ctx.Err()
}
