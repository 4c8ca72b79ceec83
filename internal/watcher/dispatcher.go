package watcher

import (
	"errors"
	"sync"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"mysql-binlog-watcher/internal/models"
	"mysql-binlog-watcher/internal/transform"
)

// EventFunc is a listener callback. It runs synchronously on the dispatch
// goroutine; a slow callback delays every later record.
type EventFunc func(*Event)

type listener struct {
	pattern string
	matcher glob.Glob
	fn      EventFunc
}

// Dispatcher fans each ChangeRecord out to the listeners whose topic pattern
// matches. Listeners are invoked in registration order, one record at a time,
// before the next record is processed.
type Dispatcher struct {
	registry    *Registry
	transformer *transform.Transformer
	logger      *logrus.Logger

	mu        sync.Mutex
	listeners []*listener
}

func NewDispatcher(registry *Registry, transformer *transform.Transformer, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		transformer: transformer,
		logger:      logger,
	}
}

// On registers fn against a topic pattern like "shop.orders.insert" or
// "shop.*.update". The returned function removes the listener.
func (d *Dispatcher) On(pattern string, fn EventFunc) (func(), error) {
	if fn == nil {
		return nil, errors.New("listener callback cannot be nil")
	}
	matcher, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	l := &listener{pattern: pattern, matcher: matcher, fn: fn}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()

	remove := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, cur := range d.listeners {
			if cur == l {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
	return remove, nil
}

// Dispatch filters rec against the registry, applies the optional transform
// and invokes every matching listener with one shared Event.
func (d *Dispatcher) Dispatch(rec *models.ChangeRecord) {
	if !d.registry.IsMonitored(rec.Schema, rec.Table) {
		d.logger.Debugf("Dropping record for unmonitored %s.%s", rec.Schema, rec.Table)
		return
	}

	if d.transformer != nil {
		out, err := d.transformer.Transform(rec)
		if err != nil {
			if errors.Is(err, transform.ErrRejected) {
				d.logger.Debugf("Record rejected by transform: %s.%s (%s)", rec.Schema, rec.Table, rec.Op)
			} else {
				d.logger.Errorf("Error transforming record for %s.%s: %v", rec.Schema, rec.Table, err)
			}
			return
		}
		if out == nil {
			d.logger.Debugf("Record rejected by transform: %s.%s (%s)", rec.Schema, rec.Table, rec.Op)
			return
		}
		rec = out
	}

	topic := Topic{Schema: rec.Schema, Table: rec.Table, Op: rec.Op}.String()
	event := newEvent(rec)

	d.mu.Lock()
	targets := make([]*listener, len(d.listeners))
	copy(targets, d.listeners)
	d.mu.Unlock()

	for _, l := range targets {
		if l.matcher.Match(topic) {
			l.fn(event)
		}
	}
}
