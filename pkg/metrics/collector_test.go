package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticCounter map[string]int

func (s staticCounter) StageCounts() map[string]int { return s }

func TestStageCollectorCollect(t *testing.T) {
	c := NewStageCollector(staticCounter{"intro": 2, "final": 1}, []string{"preBoot", "intro"}, 0)
	c.Collect()

	assert.Equal(t, float64(3), testutil.ToFloat64(activeSessions))
	assert.Equal(t, float64(0), testutil.ToFloat64(sessionsByStage.WithLabelValues("preBoot")))
	assert.Equal(t, float64(2), testutil.ToFloat64(sessionsByStage.WithLabelValues("intro")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionsByStage.WithLabelValues("final")))
}

func TestRecordStageTransition(t *testing.T) {
	before := testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("intro", "transition"))
	RecordStageTransition("intro", "transition")
	after := testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("intro", "transition"))
	assert.Equal(t, before+1, after)

	RecordStageTransition("", "")
	assert.Equal(t, float64(1), testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("unknown", "unknown")))
}
