package sweep

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type options struct {
	Logger     *log.Logger
	Cron       *cron.Cron
	Interval   time.Duration
	Workers    int
	Now        func() time.Time
	Evaluator  Evaluator
	Dispatcher Dispatcher
}

// Option applies configuration to the breach detector.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   log.Default(),
		Interval: 60 * time.Second,
		Workers:  8,
		Now:      time.Now,
	}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithCron supplies a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) { o.Cron = c }
}

// WithInterval sets the periodic sweep interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.Interval = d }
}

// WithWorkers bounds the sweep worker pool.
func WithWorkers(n int) Option {
	return func(o *options) { o.Workers = n }
}

// WithNowFunc sets a custom time function (for testing).
func WithNowFunc(fn func() time.Time) Option {
	return func(o *options) { o.Now = fn }
}

// WithEvaluator attaches the automation rule engine.
func WithEvaluator(e Evaluator) Option {
	return func(o *options) { o.Evaluator = e }
}

// WithDispatcher attaches the escalation dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) { o.Dispatcher = d }
}
