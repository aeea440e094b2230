package region

import (
	"context"
	"errors"
	"html"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/params"
	"github.com/pitabwire/dataregion/internal/sortfilter"
	"github.com/pitabwire/dataregion/model"
)

// ErrorHTML renders msg as a region error block.
func ErrorHTML(msg string) string {
	return `<div class="labkey-error">` + html.EscapeString(msg) + `</div>`
}

// reloadLocked makes pairs the live query and starts a reload for it. Only
// the newest reload is applied when it completes.
func (s *Store) reloadLocked(ctx context.Context, pairs model.Pairs) model.Transition {
	s.live = params.Build(pairs)
	s.seq++
	seq := s.seq

	body := s.asyncParams(pairs)
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	s.phase = PhaseReloading

	go s.reload(ctx, seq, body)
	return model.Transition{Kind: model.TransitionReload, Query: s.live, Seq: seq}
}

func (s *Store) reload(ctx context.Context, seq uint64, body url.Values) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReloadTimeout)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	ctx, span := observability.StartSpan(ctx, "region.reload",
		observability.AttrRegion.String(s.opts.Name),
		observability.AttrSeq.Int64(int64(seq)),
	)
	start := time.Now()
	content, err := s.opts.Content.FetchContent(ctx, body)
	observability.EndSpanWithError(span, err)

	s.finish(seq, content, err, time.Since(start))
}

// finish applies the result of reload seq unless a newer reload has been
// issued or the store is gone.
func (s *Store) finish(seq uint64, content model.Content, err error, d time.Duration) {
	s.mu.Lock()
	switch {
	case s.destroyed:
		s.mu.Unlock()
		s.logger.Warn("rendering error: region no longer exists", zap.Uint64("seq", seq))
		s.rec.RecordRegionReload(s.opts.Name, "orphaned", d)
		return
	case seq != s.seq:
		s.mu.Unlock()
		s.logger.Debug("stale reload dropped", zap.Uint64("seq", seq))
		s.rec.RecordStaleResponse("region")
		s.rec.RecordRegionReload(s.opts.Name, "stale", d)
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
		if model.IsTimeout(err) {
			status = "timeout"
		}
		s.logger.Warn("region reload failed", zap.Uint64("seq", seq), zap.Error(err))
		content = model.Content{HTML: ErrorHTML(errorMessage(err))}
	}
	s.content = content
	s.rendered = seq
	s.setIdleLocked()
	onRender := s.opts.OnRender
	s.mu.Unlock()

	s.rec.RecordRegionReload(s.opts.Name, status, d)
	if onRender != nil {
		onRender(s.opts.Name, content)
	}
}

func (s *Store) setIdleLocked() {
	s.phase = PhaseIdle
	if s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// errorMessage returns the text shown in a region error block.
func errorMessage(err error) string {
	var envelope *model.ErrorEnvelope
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError().Message
	case errors.As(err, &envelope):
		return envelope.Message
	}
	return err.Error()
}

// asyncParams builds the content request for pairs. Region defaults come
// first, then pairs override them; filters keep every repeated value. The
// region identity is applied last and cannot be overridden.
func (s *Store) asyncParams(pairs model.Pairs) url.Values {
	name := s.opts.Name
	v := url.Values{}
	v.Set(name+params.Async, "true")

	if s.opts.PageSize > 0 && !pairs.Has(name+params.ShowRows) {
		v.Set(name+params.MaxRows, strconv.Itoa(s.opts.PageSize))
	}
	if s.reportID != "" {
		v.Set(name+params.ReportID, s.reportID)
	}
	if s.viewName != "" {
		v.Set(name+params.ViewName, s.viewName)
	}
	for k, val := range s.opts.Parameters {
		v.Set(name+params.Param+k, val)
	}
	for k, val := range s.parameters {
		v.Set(name+params.Param+k, val)
	}

	for _, p := range pairs {
		if sortfilter.IsFilter(p.Key, name) {
			v.Add(p.Key, p.Value)
			continue
		}
		v.Set(p.Key, p.Value)
	}

	v.Set("dataRegionName", name)
	v.Set("schemaName", s.opts.SchemaName)
	if s.viewName != "" {
		v.Set("viewName", s.viewName)
	}
	if s.reportID != "" {
		v.Set("reportId", s.reportID)
	}
	v.Set("webpart.name", "Query")
	if s.opts.QueryName != "" {
		v.Set("queryName", s.opts.QueryName)
	} else if s.opts.SQL != "" {
		v.Set("sql", s.opts.SQL)
	}

	if cf := s.opts.ContainerFilter; cf != "" && !v.Has(name+params.ContainerFilterName) {
		v.Set(name+params.ContainerFilterName, cf)
	}
	return v
}
