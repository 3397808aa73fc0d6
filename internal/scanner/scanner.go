package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Outcome classifies one simulated fingerprint read.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuspicious Outcome = "suspicious"
)

// ErrCancelled is returned when an in-flight scan is cancelled by the operator.
var ErrCancelled = errors.New("scan cancelled")

// Attempt is the transient result of one read. It is folded into the
// session's record and then discarded, never persisted.
type Attempt struct {
	StudentID             string
	Outcome               Outcome
	CapturedFingerprintID string
	Timestamp             time.Time
}

// OutcomeSource decides how a read resolves. Injecting it keeps the
// randomness out of the scanner so tests can drive deterministic fixtures
// and a real sensor driver can slot in.
type OutcomeSource interface {
	Resolve(studentID string) Outcome
}

// TemplateSource looks up a student's enrolled fingerprint template.
type TemplateSource interface {
	Template(ctx context.Context, studentID string) (string, bool, error)
}

// Scanner is anything that can produce an Attempt for a student.
type Scanner interface {
	Scan(ctx context.Context, studentID string) (Attempt, error)
}

// Simulator emulates a hardware fingerprint reader: pending for a fixed
// latency, advancing progress in fixed increments, then resolving through
// the injected outcome source.
type Simulator struct {
	source    OutcomeSource
	templates TemplateSource
	latency   time.Duration
	steps     int
	progress  func(studentID string, percent int)
}

// NewSimulator creates a simulator. A non-positive latency falls back to 2s.
func NewSimulator(source OutcomeSource, templates TemplateSource, latency time.Duration) *Simulator {
	if latency <= 0 {
		latency = 2 * time.Second
	}
	return &Simulator{source: source, templates: templates, latency: latency, steps: 10}
}

// OnProgress registers a callback fired at each fixed increment while a
// scan is pending.
func (s *Simulator) OnProgress(fn func(studentID string, percent int)) {
	s.progress = fn
}

// Scan blocks for the configured latency, then resolves one read. Cancelling
// the context discards the attempt and returns ErrCancelled.
func (s *Simulator) Scan(ctx context.Context, studentID string) (Attempt, error) {
	if studentID == "" {
		return Attempt{}, errors.New("student id required")
	}

	step := s.latency / time.Duration(s.steps)
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for i := 1; i <= s.steps; i++ {
		select {
		case <-ticker.C:
			if s.progress != nil {
				s.progress(studentID, i*100/s.steps)
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return Attempt{}, ErrCancelled
			}
			return Attempt{}, ctx.Err()
		}
	}

	att := Attempt{
		StudentID: studentID,
		Outcome:   s.source.Resolve(studentID),
		Timestamp: time.Now().UTC(),
	}
	switch att.Outcome {
	case OutcomeSuccess:
		// A success reads the finger the student actually enrolled.
		if s.templates != nil {
			tpl, ok, err := s.templates.Template(ctx, studentID)
			if err != nil {
				return Attempt{}, fmt.Errorf("template lookup: %w", err)
			}
			if ok {
				att.CapturedFingerprintID = tpl
				break
			}
		}
		att.CapturedFingerprintID = SynthTemplate(studentID, att.Timestamp)
	case OutcomeSuspicious:
		// A suspicious read captures a template that cannot match.
		att.CapturedFingerprintID = SynthTemplate(studentID, att.Timestamp)
	}
	return att, nil
}

// SynthTemplate builds a stand-in template identifier from the student and
// a timestamp.
func SynthTemplate(studentID string, ts time.Time) string {
	return fmt.Sprintf("FP_%s_%d", studentID, ts.UnixMilli())
}

// WeightedSource resolves outcomes with configured proportions from a seeded
// random stream.
type WeightedSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	success float64
	suspect float64
}

// NewWeightedSource builds a source where success and suspect are the
// probabilities of those outcomes; the remainder fails. Seed 0 seeds from
// the clock.
func NewWeightedSource(success, suspect float64, seed int64) *WeightedSource {
	if success < 0 {
		success = 0
	}
	if suspect < 0 {
		suspect = 0
	}
	if success+suspect > 1 {
		// Scale back proportionally so some reads can still fail.
		total := success + suspect
		success /= total
		suspect /= total
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &WeightedSource{
		rng:     rand.New(rand.NewSource(seed)),
		success: success,
		suspect: suspect,
	}
}

// Resolve draws one outcome.
func (w *WeightedSource) Resolve(string) Outcome {
	w.mu.Lock()
	r := w.rng.Float64()
	w.mu.Unlock()
	switch {
	case r < w.success:
		return OutcomeSuccess
	case r < w.success+w.suspect:
		return OutcomeSuspicious
	default:
		return OutcomeFailed
	}
}

// FixedSource always resolves to one outcome; used by tests and demos.
type FixedSource Outcome

// Resolve returns the fixed outcome.
func (f FixedSource) Resolve(string) Outcome { return Outcome(f) }
