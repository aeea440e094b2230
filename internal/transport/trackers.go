package transport

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/internal/selection"
	"github.com/pitabwire/dataregion/model"
)

type trackerKey struct {
	page, region string
}

// trackerSet holds one selection tracker per live region. Trackers are
// opened when a region is created and closed when it is destroyed.
type trackerSet struct {
	svc     model.SelectionService
	timeout time.Duration
	logger  *zap.Logger
	rec     selection.Recorder

	mu       sync.Mutex
	trackers map[trackerKey]*selection.Tracker
}

func newTrackerSet(svc model.SelectionService, timeout time.Duration, logger *zap.Logger, rec selection.Recorder) *trackerSet {
	return &trackerSet{
		svc:      svc,
		timeout:  timeout,
		logger:   logger,
		rec:      rec,
		trackers: make(map[trackerKey]*selection.Tracker),
	}
}

// open creates the tracker of a region. Without a selection service no
// tracker is created and selection routes answer NOT_FOUND.
func (ts *trackerSet) open(pageID string, s *region.Store) error {
	if ts.svc == nil {
		return nil
	}
	t, err := selection.NewTracker(selection.Options{
		Region:   s,
		Service:  ts.svc,
		Timeout:  ts.timeout,
		Logger:   ts.logger,
		Recorder: ts.rec,
	})
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	key := trackerKey{pageID, s.Name()}
	if old, ok := ts.trackers[key]; ok {
		old.Close()
	}
	ts.trackers[key] = t
	return nil
}

func (ts *trackerSet) get(pageID, name string) (*selection.Tracker, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.trackers[trackerKey{pageID, name}]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("no selection for region %q on page %q", name, pageID))
	}
	return t, nil
}

func (ts *trackerSet) close(pageID, name string) {
	ts.mu.Lock()
	key := trackerKey{pageID, name}
	t, ok := ts.trackers[key]
	delete(ts.trackers, key)
	ts.mu.Unlock()
	if ok {
		t.Close()
	}
}
