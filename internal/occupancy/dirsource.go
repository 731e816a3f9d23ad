package occupancy

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// DirSource replays image files from a directory in name order, looping at
// the end. It stands in for the camera on development machines and in
// tests.
type DirSource struct {
	fsys  fs.FS
	clock timeutil.Clock

	mu    sync.Mutex
	names []string
	next  int
	seq   uint64
}

// NewDirSource scans fsys for .jpg, .jpeg and .png files.
func NewDirSource(fsys fs.FS, clock timeutil.Clock) (*DirSource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &DirSource{fsys: fsys, clock: clock}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DirSource) scan() error {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return fmt.Errorf("scan frame directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	s.mu.Lock()
	s.names = names
	s.next = 0
	s.mu.Unlock()
	return nil
}

// Len returns the number of frames found by the last scan.
func (s *DirSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// NextFrame returns the next file's bytes. It returns ErrFrameUnavailable
// when the directory held no images.
func (s *DirSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	if len(s.names) == 0 {
		s.mu.Unlock()
		return Frame{}, ErrFrameUnavailable
	}
	name := s.names[s.next]
	s.next = (s.next + 1) % len(s.names)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	return Frame{Seq: seq, At: s.clock.Now(), Data: data}, nil
}

// Reinitialize rescans the directory.
func (s *DirSource) Reinitialize(ctx context.Context) error {
	return s.scan()
}
