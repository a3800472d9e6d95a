package classifier

type options struct {
	segments []int
	logger   *Logger
	metrics  MetricsCollector
}

// Option configures classifier construction.
//
// Options exist to avoid exploding the constructor surface; the zero
// configuration is a classifier with no staged lookup, no metrics and no
// logging.
type Option func(*options)

// WithFlowSegments configures the staged-lookup boundaries, as word indices
// into the flow layout. Up to three strictly increasing boundaries are
// allowed; each subtable splits its mask at these points and probes the
// resulting stages in order, so a miss in an early stage leaves the later
// header fields wildcarded. flow.DefaultSegments separates metadata, L2, L3
// and L4.
func WithFlowSegments(boundaries ...int) Option {
	return func(o *options) {
		o.segments = boundaries
	}
}

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures a metrics collector. If nil is passed,
// NoopMetricsCollector is used.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}
