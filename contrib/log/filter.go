package log

import "sync/atomic"

// FilterOption is filter option.
type FilterOption func(*Filter)

// FilterLevel with filter level.
func FilterLevel(level Level) FilterOption {
	return func(opts *Filter) {
		opts.level.Store(int32(level))
	}
}

// FilterFunc with filter func.
func FilterFunc(f func(level Level, keyvals ...any) bool) FilterOption {
	return func(o *Filter) {
		o.filter = f
	}
}

// Filter is a logger filter.
type Filter struct {
	logger Logger
	level  *atomic.Int32
	filter func(level Level, keyvals ...any) bool
}

// NewFilter new a logger filter.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	f := &Filter{
		logger: logger,
		level:  &atomic.Int32{},
	}
	f.level.Store(int32(LevelDebug))
	for _, o := range opts {
		o(f)
	}
	return f
}

// Log Print log by level and keyvals.
func (f *Filter) Log(level Level, keyvals ...any) error {
	if !f.Enabled(level) {
		return nil
	}
	if f.filter != nil && f.filter(level, keyvals...) {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}

// Enabled reports whether the level passes the filter.
func (f *Filter) Enabled(level Level) bool {
	return level >= Level(f.level.Load())
}

// SetLevel swaps the minimum level, safe to call while logging.
func (f *Filter) SetLevel(level Level) {
	f.level.Store(int32(level))
}
