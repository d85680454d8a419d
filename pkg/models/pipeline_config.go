package models

import (
	"errors"
	"fmt"
)

// DefaultMaxAttempts bounds automated retries per phase.
const DefaultMaxAttempts = 3

var (
	ErrPhaseNotInPipeline = errors.New("phase not declared in pipeline")
	ErrInvalidReentry     = errors.New("re-entry phase must precede the gated phase")
)

// GateConfig declares an approval gate on one phase. ReentryPhase names the
// phase a rejection re-enters; empty means the gated phase itself.
type GateConfig struct {
	Phase        Phase `json:"phase"          validate:"required"`
	ReentryPhase Phase `json:"reentry_phase,omitempty"`
}

// PipelineConfig is the static, per-deployment shape of a pipeline: the phase
// sequence, which phases are gated on approval, the retry budget, and the
// executor that performs phase work. It is passed explicitly into the
// orchestrator, never read from ambient state.
type PipelineConfig struct {
	Phases         []Phase        `json:"phases"          validate:"required,min=1"`
	Gates          []GateConfig   `json:"gates,omitempty" validate:"dive"`
	MaxAttempts    int            `json:"max_attempts"    validate:"min=1,max=10"`
	ExecutorType   string         `json:"executor_type"   validate:"required"`
	ExecutorConfig map[string]any `json:"executor_config,omitempty"`
}

// DefaultPipelineConfig returns the stock six-phase pipeline with a gate on
// plan and review, executed by the given executor type.
func DefaultPipelineConfig(executorType string) PipelineConfig {
	return PipelineConfig{
		Phases: DefaultPhases(),
		Gates: []GateConfig{
			{Phase: PhasePlan},
			{Phase: PhaseReview},
		},
		MaxAttempts:  DefaultMaxAttempts,
		ExecutorType: executorType,
	}
}

// IndexOf returns the position of p in the sequence, or -1.
func (pc *PipelineConfig) IndexOf(p Phase) int {
	for i, phase := range pc.Phases {
		if phase == p {
			return i
		}
	}

	return -1
}

// After returns the phase following p; false when p is last or unknown.
func (pc *PipelineConfig) After(p Phase) (Phase, bool) {
	idx := pc.IndexOf(p)
	if idx < 0 || idx+1 >= len(pc.Phases) {
		return "", false
	}

	return pc.Phases[idx+1], true
}

// First returns the initial phase of the sequence.
func (pc *PipelineConfig) First() Phase {
	if len(pc.Phases) == 0 {
		return ""
	}

	return pc.Phases[0]
}

// Gate returns the gate configured for p, if any.
func (pc *PipelineConfig) Gate(p Phase) (GateConfig, bool) {
	for _, gate := range pc.Gates {
		if gate.Phase == p {
			return gate, true
		}
	}

	return GateConfig{}, false
}

// ReentryTarget returns the phase a rejection of the gate re-enters.
func (g GateConfig) ReentryTarget() Phase {
	if g.ReentryPhase != "" {
		return g.ReentryPhase
	}

	return g.Phase
}

// Validate checks structural consistency beyond struct tags: gates must name
// declared phases and re-entry targets must not point forward.
func (pc *PipelineConfig) Validate() error {
	if pc.MaxAttempts == 0 {
		pc.MaxAttempts = DefaultMaxAttempts
	}

	seen := make(map[Phase]bool, len(pc.Phases))
	for _, phase := range pc.Phases {
		if seen[phase] {
			return fmt.Errorf("duplicate phase %q in pipeline", phase)
		}

		seen[phase] = true
	}

	for _, gate := range pc.Gates {
		gateIdx := pc.IndexOf(gate.Phase)
		if gateIdx < 0 {
			return fmt.Errorf("gate on %q: %w", gate.Phase, ErrPhaseNotInPipeline)
		}

		if gate.ReentryPhase == "" {
			continue
		}

		reentryIdx := pc.IndexOf(gate.ReentryPhase)
		if reentryIdx < 0 {
			return fmt.Errorf("gate on %q re-enters %q: %w", gate.Phase, gate.ReentryPhase, ErrPhaseNotInPipeline)
		}

		if reentryIdx > gateIdx {
			return fmt.Errorf("gate on %q re-enters %q: %w", gate.Phase, gate.ReentryPhase, ErrInvalidReentry)
		}
	}

	return nil
}
