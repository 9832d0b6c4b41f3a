package types_test

import (
	"testing"

	"github.com/memento-core/daemon/pkg/types"
)

func TestValidCheckpointTriggers(t *testing.T) {
	valid := []types.CheckpointTrigger{
		types.TriggerPeriodic, types.TriggerPreCompaction,
		types.TriggerAgent, types.TriggerExplicit,
	}
	for _, trig := range valid {
		if !types.IsValidCheckpointTrigger(trig) {
			t.Errorf("expected %s to be a valid checkpoint trigger", trig)
		}
	}
}

func TestInvalidCheckpointTrigger(t *testing.T) {
	if types.IsValidCheckpointTrigger("manual") {
		t.Error("expected unknown trigger to be invalid")
	}
	if types.IsValidCheckpointTrigger("") {
		t.Error("expected empty trigger to be invalid")
	}
}
