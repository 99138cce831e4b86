package prefs

import (
	"context"
	"encoding/json"

	"matchjumper/storage"
)

// Step is a walkthrough step.
type Step string

const (
	StepPickPreset      Step = "pickPreset"
	StepSelectTeam      Step = "selectTeam"
	StepOpenMatch       Step = "openMatch"
	StepEnterFullscreen Step = "enterFullscreen"
	StepExitFullscreen  Step = "exitFullscreen"
)

// Steps is the walkthrough order.
var Steps = []Step{StepPickPreset, StepSelectTeam, StepOpenMatch, StepEnterFullscreen, StepExitFullscreen}

// legacySteps maps step names written by older versions.
var legacySteps = map[Step]Step{
	"openTeamList": StepSelectTeam,
	"findTeam":     StepSelectTeam,
}

const onboardingKey = "onboarding.walkthrough.v1"

// Progress is the walkthrough state. Step is empty once completed.
type Progress struct {
	Completed bool `json:"completed"`
	Skipped   bool `json:"skipped"`
	Step      Step `json:"step,omitempty"`
}

// Next returns the step after s, or "" after the last one.
func (s Step) Next() Step {
	for i, st := range Steps {
		if st == s && i+1 < len(Steps) {
			return Steps[i+1]
		}
	}
	return ""
}

func (s Step) valid() bool {
	for _, st := range Steps {
		if st == s {
			return true
		}
	}
	return false
}

// Onboarding persists walkthrough progress.
type Onboarding struct {
	kv storage.KV
}

// NewOnboarding returns walkthrough storage over kv.
func NewOnboarding(kv storage.KV) *Onboarding { return &Onboarding{kv: kv} }

// Load returns the saved progress. Unknown or unreadable state restarts at
// the first step.
func (o *Onboarding) Load(ctx context.Context) Progress {
	fresh := Progress{Step: StepPickPreset}

	raw, ok := o.kv.Get(ctx, onboardingKey)
	if !ok {
		return fresh
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return fresh
	}
	if p.Completed {
		return Progress{Completed: true, Skipped: p.Skipped}
	}
	step := p.Step
	if mapped, ok := legacySteps[step]; ok {
		step = mapped
	}
	if !step.valid() {
		step = StepPickPreset
	}
	return Progress{Step: step}
}

// SetStep records the current step. Empty steps are ignored.
func (o *Onboarding) SetStep(ctx context.Context, step Step) {
	if step == "" {
		return
	}
	o.save(ctx, Progress{Step: step})
}

// Complete marks the walkthrough finished, optionally as skipped.
func (o *Onboarding) Complete(ctx context.Context, skipped bool) {
	o.save(ctx, Progress{Completed: true, Skipped: skipped})
}

// Reset forgets all progress.
func (o *Onboarding) Reset(ctx context.Context) {
	o.kv.Remove(ctx, onboardingKey)
}

func (o *Onboarding) save(ctx context.Context, p Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	o.kv.Set(ctx, onboardingKey, data)
}
