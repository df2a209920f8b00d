package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/fleet-reports/internal/domain"
)

func TestJobEventsDeliversToJobSubscribersOnly(t *testing.T) {
	events := NewJobEvents()
	first, cancelFirst := events.Subscribe("job-1")
	defer cancelFirst()
	other, cancelOther := events.Subscribe("job-2")
	defer cancelOther()

	events.Publish(domain.ReportJob{ID: "job-1", Status: domain.JobStatusProcessing, Progress: 40})

	require.Len(t, first, 1)
	assert.Equal(t, 40, (<-first).Progress)
	assert.Empty(t, other)
}

func TestJobEventsSlowSubscriberKeepsLatest(t *testing.T) {
	events := NewJobEvents()
	ch, cancel := events.Subscribe("job-1")
	defer cancel()

	for progress := 0; progress < subscriberBuffer+5; progress++ {
		events.Publish(domain.ReportJob{ID: "job-1", Progress: progress})
	}
	events.Publish(domain.ReportJob{ID: "job-1", Status: domain.JobStatusCompleted, Progress: 100})

	var last domain.ReportJob
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
}

func TestJobEventsUnsubscribe(t *testing.T) {
	events := NewJobEvents()
	_, cancel := events.Subscribe("job-1")
	assert.Equal(t, 1, events.subscribers("job-1"))

	cancel()
	cancel()
	assert.Zero(t, events.subscribers("job-1"))
	events.Publish(domain.ReportJob{ID: "job-1"})
}
