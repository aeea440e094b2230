// Package selection reconciles the checkbox state of a rendered region page
// with the server-side selection store.
//
// Every checkbox action is applied locally first and then sent to the
// selection service. The server's count is only accepted from the newest
// request, so overlapping responses cannot move the count backwards.
package selection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/model"
)

// DefaultTimeout bounds a single selection request.
const DefaultTimeout = 30 * time.Second

// MessageError is shown when the selection service rejects a request.
const MessageError = "Error sending selection."

// Region is the part of a data region a tracker drives after a bulk
// selection change.
type Region interface {
	Name() string
	SelectionKey() string
	ShowMode() model.ShowMode
	SetShowMode(ctx context.Context, mode model.ShowMode) (model.Transition, error)
	Refresh(ctx context.Context) (model.Transition, error)
	QueryConfig() model.QueryConfig
}

// Recorder receives selection metrics.
type Recorder interface {
	RecordSelectionRequest(op, status string, d time.Duration)
	RecordStaleResponse(component string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSelectionRequest(string, string, time.Duration) {}
func (nopRecorder) RecordStaleResponse(string)                         {}

// Options configures a Tracker.
type Options struct {
	Region   Region
	Service  model.SelectionService
	Timeout  time.Duration
	Logger   *zap.Logger
	Recorder Recorder
}

// Tracker holds the selection state of one region page.
type Tracker struct {
	region  Region
	svc     model.SelectionService
	timeout time.Duration
	logger  *zap.Logger
	rec     Recorder

	life context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	rows    []model.Row
	checked map[string]bool
	count   int
	total   int
	message string
	seq     uint64
	pending int
	idle    chan struct{}
	closed  bool

	subs    map[int]func(model.SelectionSnapshot)
	nextSub int
}

// NewTracker creates a tracker with no rows and a zero count.
func NewTracker(opts Options) (*Tracker, error) {
	if opts.Region == nil {
		return nil, model.NewBadRequestError("selection: region is required")
	}
	if opts.Service == nil {
		return nil, model.NewBadRequestError("selection: service is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	life, stop := context.WithCancel(context.Background())
	return &Tracker{
		region:  opts.Region,
		svc:     opts.Service,
		timeout: opts.Timeout,
		logger: opts.Logger.With(
			zap.String("region", opts.Region.Name()),
			zap.String("selection_key", opts.Region.SelectionKey()),
		),
		rec:     opts.Recorder,
		life:    life,
		stop:    stop,
		checked: make(map[string]bool),
		total:   -1,
		subs:    make(map[int]func(model.SelectionSnapshot)),
	}, nil
}

// LoadPage replaces the visible rows. Checked ids that are no longer visible
// are forgotten locally; the server keeps them. A negative total means the
// row count is unknown.
func (t *Tracker) LoadPage(rows []model.Row, total int) {
	t.mu.Lock()
	t.rows = append([]model.Row(nil), rows...)
	visible := make(map[string]bool, len(rows))
	for _, r := range rows {
		if t.checked[r.ID] {
			visible[r.ID] = true
		}
	}
	t.checked = visible
	if total < 0 {
		total = -1
	}
	t.total = total
	t.notifyUnlock()
}

// ToggleRow checks or unchecks a single visible row.
func (t *Tracker) ToggleRow(ctx context.Context, id string, checked bool) error {
	t.mu.Lock()
	row, ok := t.rowLocked(id)
	if !ok {
		t.mu.Unlock()
		return model.NewNotFoundError(fmt.Sprintf("row %q is not on the current page", id))
	}
	if row.Disabled {
		t.mu.Unlock()
		return model.NewBadRequestError(fmt.Sprintf("row %q cannot be selected", id))
	}
	if err := t.openLocked(); err != nil {
		t.mu.Unlock()
		return err
	}

	t.setCheckedLocked([]string{id}, checked)
	if !checked {
		t.message = ""
	}
	key := t.region.SelectionKey()
	t.sendLocked(ctx, "set_selected", func(ctx context.Context) (int, error) {
		return t.svc.SetSelected(ctx, key, []string{id}, checked)
	}, nil)
	t.notifyUnlock()
	return nil
}

// SelectPage checks or unchecks every enabled row on the page. A page with
// no enabled rows sends nothing.
func (t *Tracker) SelectPage(ctx context.Context, checked bool) error {
	t.mu.Lock()
	if err := t.openLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	ids := t.enabledLocked()
	if len(ids) == 0 {
		t.mu.Unlock()
		return nil
	}

	t.setCheckedLocked(ids, checked)
	key := t.region.SelectionKey()
	t.sendLocked(ctx, "select_page", func(ctx context.Context) (int, error) {
		return t.svc.SetSelected(ctx, key, ids, checked)
	}, nil)
	t.notifyUnlock()
	return nil
}

// SelectAll selects every row matching the region's query, on every page.
// Once the server confirms, the visible rows are checked and a region that
// shows only selected or unselected rows is updated to match.
func (t *Tracker) SelectAll(ctx context.Context) error {
	t.mu.Lock()
	if err := t.openLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	cfg := t.region.QueryConfig()
	t.sendLocked(ctx, "select_all", func(ctx context.Context) (int, error) {
		return t.svc.SelectAll(ctx, cfg)
	}, &followUp{
		apply: func() { t.setCheckedLocked(t.enabledLocked(), true) },
		then: func(ctx context.Context) error {
			switch t.region.ShowMode() {
			case model.ShowSelected:
				_, err := t.region.Refresh(ctx)
				return err
			case model.ShowUnselected:
				_, err := t.region.SetShowMode(ctx, model.ShowPaginated)
				return err
			}
			return nil
		},
	})
	t.notifyUnlock()
	return nil
}

// ClearSelected empties the selection. The count drops to zero and the page
// is unchecked immediately; the count comes back if the server rejects the
// clear. Once the server confirms, a region that shows only selected or
// unselected rows is updated to match.
func (t *Tracker) ClearSelected(ctx context.Context) error {
	t.mu.Lock()
	if err := t.openLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	prev := t.count
	t.count = 0
	t.message = ""
	clear(t.checked)

	key := t.region.SelectionKey()
	t.sendLocked(ctx, "clear_selected", func(ctx context.Context) (int, error) {
		return t.svc.ClearSelected(ctx, key)
	}, &followUp{
		restore: func() { t.count = prev },
		then: func(ctx context.Context) error {
			switch t.region.ShowMode() {
			case model.ShowSelected:
				_, err := t.region.SetShowMode(ctx, model.ShowPaginated)
				return err
			case model.ShowUnselected:
				_, err := t.region.Refresh(ctx)
				return err
			}
			return nil
		},
	})
	t.notifyUnlock()
	return nil
}

// Sync replaces the local state with the server's selection. Visible rows
// are checked exactly when the server has them selected.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	if err := t.openLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	key := t.region.SelectionKey()
	var selected []string
	t.sendLocked(ctx, "get_selected", func(ctx context.Context) (int, error) {
		ids, err := t.svc.GetSelected(ctx, key)
		selected = ids
		return len(ids), err
	}, &followUp{
		apply: func() {
			clear(t.checked)
			set := make(map[string]bool, len(selected))
			for _, id := range selected {
				set[id] = true
			}
			for _, r := range t.rows {
				if set[r.ID] {
					t.checked[r.ID] = true
				}
			}
		},
	})
	t.notifyUnlock()
	return nil
}

// Snapshot returns the current selection state.
func (t *Tracker) Snapshot() model.SelectionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Count returns the last confirmed server count.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// IsPageSelected reports whether every enabled visible row is checked. A
// page with no enabled rows is never selected.
func (t *Tracker) IsPageSelected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageSelectedLocked()
}

// Master returns the state of the page-level checkbox.
func (t *Tracker) Master() model.MasterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.masterLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned function removes the subscription.
func (t *Tracker) Subscribe(fn func(model.SelectionSnapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Wait blocks until no request is in flight or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight requests. Further actions fail.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stop()
}

// RequiresSelection reports whether a button that needs between minCount
// and maxCount selected rows is enabled. A minCount below 1 means 1 and a
// maxCount of 0 means no upper bound.
func RequiresSelection(minCount, maxCount, count int) bool {
	if minCount < 1 {
		minCount = 1
	}
	if count < minCount {
		return false
	}
	return maxCount <= 0 || count <= maxCount
}

// Message returns the status line for count selected rows out of total.
// A negative total means the row count is unknown.
func Message(count, total int) string {
	switch {
	case count <= 0:
		return ""
	case total > 0 && count == total:
		return fmt.Sprintf("All %d rows selected.", total)
	case total >= 0:
		return fmt.Sprintf("Selected %d of %d rows.", count, total)
	}
	return fmt.Sprintf("Selected %d rows.", count)
}

// followUp runs after the newest request completes. apply runs under the
// tracker lock on success and restore on failure; then runs after the lock
// is released on success.
type followUp struct {
	apply   func()
	restore func()
	then    func(ctx context.Context) error
}

func (t *Tracker) sendLocked(ctx context.Context, op string, call func(context.Context) (int, error), next *followUp) {
	t.seq++
	seq := t.seq
	t.pending++
	if t.idle == nil {
		t.idle = make(chan struct{})
	}
	go t.send(context.WithoutCancel(ctx), seq, op, call, next)
}

func (t *Tracker) send(ctx context.Context, seq uint64, op string, call func(context.Context) (int, error), next *followUp) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(t.life, cancel)
	defer stop()

	reqCtx, span := observability.StartSpan(reqCtx, "selection."+op,
		observability.AttrRegion.String(t.region.Name()),
		observability.AttrSelectionKey.String(t.region.SelectionKey()),
		observability.AttrSeq.Int64(int64(seq)),
	)
	start := time.Now()
	n, err := call(reqCtx)
	observability.EndSpanWithError(span, err)
	d := time.Since(start)

	t.mu.Lock()
	t.pending--
	stale := seq != t.seq
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		if model.IsTimeout(err) {
			status = "timeout"
		}
		if !t.closed {
			if !stale && next != nil && next.restore != nil {
				next.restore()
			}
			t.message = MessageError
		}
		t.logger.Warn("selection request failed", zap.String("op", op), zap.Uint64("seq", seq), zap.Error(err))
	case stale:
		status = "stale"
		t.logger.Debug("stale selection response dropped", zap.String("op", op), zap.Uint64("seq", seq))
	default:
		t.count = n
		if next != nil && next.apply != nil {
			next.apply()
		}
		t.message = Message(t.count, t.total)
	}
	if t.pending == 0 && t.idle != nil {
		close(t.idle)
		t.idle = nil
	}
	t.notifyUnlock()

	if stale && err == nil {
		t.rec.RecordStaleResponse("selection")
	}
	t.rec.RecordSelectionRequest(op, status, d)

	if status == "ok" && next != nil && next.then != nil {
		if err := next.then(ctx); err != nil {
			t.logger.Warn("region update after selection failed", zap.String("op", op), zap.Error(err))
		}
	}
}

func (t *Tracker) openLocked() error {
	if t.closed {
		return model.NewNotFoundError("selection tracker is closed")
	}
	return nil
}

func (t *Tracker) rowLocked(id string) (model.Row, bool) {
	for _, r := range t.rows {
		if r.ID == id {
			return r, true
		}
	}
	return model.Row{}, false
}

func (t *Tracker) enabledLocked() []string {
	ids := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		if !r.Disabled {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (t *Tracker) setCheckedLocked(ids []string, checked bool) {
	for _, id := range ids {
		if checked {
			t.checked[id] = true
		} else {
			delete(t.checked, id)
		}
	}
}

func (t *Tracker) pageSelectedLocked() bool {
	n := 0
	for _, r := range t.rows {
		if r.Disabled {
			continue
		}
		if !t.checked[r.ID] {
			return false
		}
		n++
	}
	return n > 0
}

func (t *Tracker) masterLocked() model.MasterState {
	switch {
	case t.pageSelectedLocked():
		return model.MasterChecked
	case len(t.checked) > 0 || t.count > 0:
		return model.MasterIndeterminate
	}
	return model.MasterUnchecked
}

func (t *Tracker) snapshotLocked() model.SelectionSnapshot {
	checked := make(map[string]bool, len(t.checked))
	for id := range t.checked {
		checked[id] = true
	}
	return model.SelectionSnapshot{
		SelectionKey: t.region.SelectionKey(),
		Checked:      checked,
		Count:        t.count,
		Total:        t.total,
		Master:       t.masterLocked(),
		PageSelected: t.pageSelectedLocked(),
		Message:      t.message,
		Pending:      t.pending,
	}
}

// notifyUnlock releases the lock and hands a snapshot to every subscriber.
func (t *Tracker) notifyUnlock() {
	snap := t.snapshotLocked()
	subs := make([]func(model.SelectionSnapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
