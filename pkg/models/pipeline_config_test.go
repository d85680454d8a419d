package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineConfig_After(t *testing.T) {
	cfg := DefaultPipelineConfig("subprocess")

	next, ok := cfg.After(PhaseAnalysis)
	require.True(t, ok)
	assert.Equal(t, PhaseRequirements, next)

	next, ok = cfg.After(PhaseReview)
	require.True(t, ok)
	assert.Equal(t, PhaseDeploy, next)

	_, ok = cfg.After(PhaseDeploy)
	assert.False(t, ok, "last phase has no successor")

	_, ok = cfg.After(Phase("unknown"))
	assert.False(t, ok)
}

func TestPipelineConfig_Gate(t *testing.T) {
	cfg := DefaultPipelineConfig("subprocess")

	gate, ok := cfg.Gate(PhasePlan)
	require.True(t, ok)
	assert.Equal(t, PhasePlan, gate.ReentryTarget())

	_, ok = cfg.Gate(PhaseImplement)
	assert.False(t, ok)
}

func TestGateConfig_ReentryTarget(t *testing.T) {
	gate := GateConfig{Phase: PhaseReview, ReentryPhase: PhasePlan}
	assert.Equal(t, PhasePlan, gate.ReentryTarget())

	gate = GateConfig{Phase: PhaseReview}
	assert.Equal(t, PhaseReview, gate.ReentryTarget())
}

func TestPipelineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PipelineConfig
		wantErr error
	}{
		{
			name:   "default config is valid",
			config: DefaultPipelineConfig("subprocess"),
		},
		{
			name: "gate on undeclared phase",
			config: PipelineConfig{
				Phases:       []Phase{PhasePlan, PhaseImplement},
				Gates:        []GateConfig{{Phase: PhaseDeploy}},
				MaxAttempts:  3,
				ExecutorType: "subprocess",
			},
			wantErr: ErrPhaseNotInPipeline,
		},
		{
			name: "re-entry pointing forward",
			config: PipelineConfig{
				Phases:       []Phase{PhasePlan, PhaseImplement},
				Gates:        []GateConfig{{Phase: PhasePlan, ReentryPhase: PhaseImplement}},
				MaxAttempts:  3,
				ExecutorType: "subprocess",
			},
			wantErr: ErrInvalidReentry,
		},
		{
			name: "re-entry to earlier phase is allowed",
			config: PipelineConfig{
				Phases:       []Phase{PhasePlan, PhaseImplement, PhaseReview},
				Gates:        []GateConfig{{Phase: PhaseReview, ReentryPhase: PhasePlan}},
				MaxAttempts:  3,
				ExecutorType: "subprocess",
			},
		},
		{
			name: "duplicate phase",
			config: PipelineConfig{
				Phases:       []Phase{PhasePlan, PhasePlan},
				MaxAttempts:  3,
				ExecutorType: "subprocess",
			},
			wantErr: nil, // error checked by message below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			switch {
			case tt.name == "duplicate phase":
				require.Error(t, err)
				assert.Contains(t, err.Error(), "duplicate phase")
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestPipelineConfig_Validate_DefaultsMaxAttempts(t *testing.T) {
	cfg := PipelineConfig{
		Phases:       []Phase{PhasePlan},
		ExecutorType: "subprocess",
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}
