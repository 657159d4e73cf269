package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func freshRegistry() {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}

func TestNewCollectorInitializesEveryMetric(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotNil(t, c.tasksPushed)
	assert.NotNil(t, c.tasksFinished)
	assert.NotNil(t, c.tasksErrored)
	assert.NotNil(t, c.simulatorLatency)
	assert.NotNil(t, c.slotsIdle)
	assert.NotNil(t, c.slotsBusy)
	assert.NotNil(t, c.generation)
}

func TestRecordPushDoesNotPanic(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			c.RecordPush()
		}
	})
}

func TestRecordFinishedAcceptsZeroAndNonzeroErrorCodesWithoutPanic(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.RecordFinished(0.01, 0)
		c.RecordFinished(0.02, 1)
	})
}

func TestSetSlotStatsAndGenerationDoNotPanic(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.SetSlotStats(3, 1)
		c.SetGeneration(2)
	})
}
