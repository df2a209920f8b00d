package reportapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitJobPath(t *testing.T) {
	cases := []struct {
		path   string
		jobID  string
		action string
		ok     bool
	}{
		{path: "/v1/jobs/job-1", jobID: "job-1", ok: true},
		{path: "/v1/jobs/job-1/", jobID: "job-1", ok: true},
		{path: "/v1/jobs/job-1/artifact", jobID: "job-1", action: "artifact", ok: true},
		{path: "/v1/jobs/job-1/artifact-url", jobID: "job-1", action: "artifact-url", ok: true},
		{path: "/v1/jobs/a%20b/events", jobID: "a b", action: "events", ok: true},
		{path: "/v1/jobs/", ok: false},
		{path: "/v1/jobs/%20", ok: false},
		{path: "/v1/reports", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			jobID, action, ok := SplitJobPath(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.jobID, jobID)
			assert.Equal(t, tc.action, action)
		})
	}
}

func TestPathHelpersEscapeIDs(t *testing.T) {
	assert.Equal(t, "/v1/jobs/a%2Fb", JobStatusPath("a/b"))
	assert.Equal(t, "/v1/jobs/job-1/artifact", ArtifactPath("job-1"))
	assert.Equal(t, "/v1/jobs/job-1/artifact-url", ArtifactURLPath("job-1"))
	assert.Equal(t, "/v1/jobs/job-1/events", JobEventsPath("job-1"))

	jobID, action, ok := SplitJobPath(JobStatusPath("a/b"))
	assert.True(t, ok)
	assert.Equal(t, "a/b", jobID)
	assert.Empty(t, action)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusStarting.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, Status("QUEUED").Terminal())
	assert.False(t, Status("QUEUED").Known())
	assert.True(t, StatusProcessing.Known())
}
