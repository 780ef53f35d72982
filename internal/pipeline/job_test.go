package pipeline

import (
	"testing"
	"time"
)

func TestJobPatch_ApplyLeavesOmittedFields(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	lock := now.Add(time.Minute)
	j := &Job{
		ID: "aijob-1", Status: StatusProcessing, Step: StepCaption,
		LockedUntil: &lock, RetryCount: 2, Error: "old", Provider: "bedrock", Model: "titan",
	}

	NewPatch().WithStep(StepTags).Apply(j, now)
	if j.Status != StatusProcessing || j.RetryCount != 2 || j.Error != "old" || j.Model != "titan" {
		t.Errorf("omitted fields changed: %+v", j)
	}
	if j.Step != StepTags || !j.UpdatedAt.Equal(now) {
		t.Errorf("Step = %s UpdatedAt = %v", j.Step, j.UpdatedAt)
	}
}

func TestJobPatch_Transitions(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	base := func() *Job {
		return &Job{Status: StatusPending, Step: StepPending, RetryCount: 1, Error: "rate_limited", Provider: "p", Model: "m"}
	}

	j := base()
	LeasePatch(now).Apply(j, now)
	if j.Status != StatusProcessing || j.Step != StepEmbedding || j.Error != "" || j.Provider != "" || j.Model != "" {
		t.Errorf("after lease: %+v", j)
	}
	if !j.Leased(now) || j.Leaseable(now) {
		t.Error("leased job should hold a live lease")
	}

	FailPatch("boom").Apply(j, now)
	if j.Status != StatusFailed || j.LockedUntil != nil || j.RetryCount != 2 || j.Error != "boom" {
		t.Errorf("after fail: %+v", j)
	}

	RequeuePatch().Apply(j, now)
	if j.Status != StatusPending || j.Step != StepPending || j.RetryCount != 2 {
		t.Errorf("after requeue: %+v", j)
	}

	CompletePatch(now).Apply(j, now)
	if j.Status != StatusCompleted || j.Step != StepDone || j.ProcessedAt == nil || j.Error != "" {
		t.Errorf("after complete: %+v", j)
	}
}

func TestJobPatch_IsEmpty(t *testing.T) {
	if !NewPatch().IsEmpty() {
		t.Error("NewPatch().IsEmpty() = false")
	}
	for name, p := range map[string]JobPatch{
		"unlock":      NewPatch().Unlock(),
		"inc":         NewPatch().IncRetry(),
		"clear error": NewPatch().WithoutError(),
		"provider":    NewPatch().WithoutProvider(),
	} {
		if p.IsEmpty() {
			t.Errorf("%s: IsEmpty() = true", name)
		}
	}
}
