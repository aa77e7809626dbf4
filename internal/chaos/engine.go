// Package chaos runs game-day experiments against the lending engine: it
// checks a steady state, drives concurrent load at shared books, then
// samples the invariants until the experiment window closes.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/platform/logger"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid, experiment aborted")

// Experiment is one hypothesis about the system under load.
type Experiment struct {
	Name        string
	Hypothesis  string
	Setup       []Action
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration bounds the observation window after Method completes.
	// Zero takes a single sample.
	Duration    time.Duration
	SampleEvery time.Duration
}

// Probe is a measurable property of the system.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a load or fault step.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observation of Probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	FailedChecks     []string               `json:"failed_checks,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []Experiment
	Participants []string
}

type Engine struct {
	tracer      trace.Tracer
	logger      *slog.Logger
	pause       time.Duration
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithPause sets the gap between game-day experiments (default 30s).
func WithPause(d time.Duration) Option { return func(e *Engine) { e.pause = d } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tracer: otel.Tracer("libracirc/chaos"),
		logger: logger.Discard(),
		pause:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes exp: setup, steady-state check, method, observation,
// rollback and validation.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("setup")
	for _, action := range exp.Setup {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("setup %s: %w", action.Type, err)
		}
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		e.rollback(ctx, span, exp)
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_load")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	e.rollback(ctx, span, exp)

	span.AddEvent("validating_assertions")
	result.FailedChecks = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedChecks) == 0 && len(result.ErrorEvents) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) rollback(ctx context.Context, span trace.Span, exp Experiment) {
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			e.logger.WarnContext(ctx, "rollback failed", "experiment", exp.Name, "action", action.Type, "error", err)
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "steady state probe failed", "probe", p.Name, "error", err)
			value = -1
		}
		if err != nil || !p.Threshold.Holds(value) {
			violations = append(violations, Violation{
				Probe:     p.Name,
				Expected:  p.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
	return violations
}

// observe samples every probe once, then again on each tick until the
// window closes.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	var recoveryStart time.Time
	sample := func() {
		for _, p := range exp.SteadyState {
			now := time.Now()
			value, err := p.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: p.Name})
				continue
			}
			result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: value})
			if !p.Threshold.Holds(value) {
				if recoveryStart.IsZero() {
					recoveryStart = now
				}
				result.Violations = append(result.Violations, Violation{
					Probe: p.Name, Expected: p.Threshold.Value, Actual: value, Timestamp: now,
				})
			} else if !recoveryStart.IsZero() && result.MTTR == nil {
				mttr := now.Sub(recoveryStart)
				result.MTTR = &mttr
			}
		}
	}

	sample()
	if exp.Duration <= 0 {
		return
	}
	every := exp.SampleEvery
	if every <= 0 {
		every = time.Second
	}
	window, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-window.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func validate(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		obs := result.Observations[a.Probe]
		if len(obs) == 0 {
			failed = append(failed, a.Probe+": no observations")
			continue
		}
		if !a.Condition(obs[len(obs)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// ExecuteGameDay runs every scenario in order. It returns an error naming
// the experiments whose hypothesis did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.logger.InfoContext(ctx, "game day started",
		"name", day.Name, "date", day.Date, "participants", day.Participants, "experiments", len(day.Scenarios))

	var failures []error
	for i, exp := range day.Scenarios {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pause):
			}
		}
		e.logger.InfoContext(ctx, "experiment started",
			"index", i+1, "of", len(day.Scenarios), "name", exp.Name, "hypothesis", exp.Hypothesis)

		result, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.ErrorContext(ctx, "experiment aborted", "name", exp.Name, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", exp.Name, err))
			continue
		}
		e.logResult(ctx, result)
		if !result.HypothesisHeld {
			failures = append(failures, fmt.Errorf("%s: hypothesis violated", exp.Name))
		}
	}
	return errors.Join(failures...)
}

func (e *Engine) logResult(ctx context.Context, r *Result) {
	attrs := []any{
		"name", r.ExperimentName,
		"hypothesis_held", r.HypothesisHeld,
		"violations", len(r.Violations),
		"error_events", len(r.ErrorEvents),
		"duration", r.Duration,
	}
	if r.MTTR != nil {
		attrs = append(attrs, "mttr", *r.MTTR)
	}
	if r.HypothesisHeld {
		e.logger.InfoContext(ctx, "experiment finished", attrs...)
		return
	}
	e.logger.WarnContext(ctx, "experiment finished", append(attrs, "failed_checks", r.FailedChecks)...)
	for _, v := range r.Violations {
		e.logger.WarnContext(ctx, "probe violation", "probe", v.Probe, "expected", v.Expected, "actual", v.Actual)
	}
}
