package main

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, 5.0, percentile(values, 0.50))
	assert.Equal(t, 10.0, percentile(values, 0.95))
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 10.0, percentile(values, 1))
	assert.Equal(t, 0.0, percentile(nil, 0.5))
}

func TestRunScenarioCountsErrors(t *testing.T) {
	var calls atomic.Int32
	result := runScenario("mixed", 10, 3, func(index int) error {
		calls.Add(1)
		if index%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, int32(10), calls.Load())
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 8, result.Success)
	assert.Equal(t, 2, result.Errors)
	assert.Equal(t, []string{"boom", "boom"}, result.ErrorSamples)
}

func TestRunScenarioEmpty(t *testing.T) {
	assert.Equal(t, scenarioResult{Name: "none"}, runScenario("none", 0, 4, nil))
}
