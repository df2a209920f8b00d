package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/fleet-reports/internal/blob"
	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/linksign"
	"github.com/iago/fleet-reports/internal/render"
	"github.com/iago/fleet-reports/internal/repository"
)

type capturingProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
	err      error
}

func (p *capturingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

type presigningStore struct {
	*blob.MemoryStore
}

func (presigningStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://objects.example.test/" + key + "?ttl=" + ttl.String(), nil
}

type harness struct {
	repo     *repository.MemoryJobsRepository
	producer *capturingProducer
	blobs    blob.Store
	service  *JobsService
}

func newHarness(t *testing.T, blobs blob.Store) *harness {
	t.Helper()
	signer, err := linksign.NewSigner("test-secret", linksign.WithTTL(5*time.Minute))
	require.NoError(t, err)
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	h := &harness{
		repo:     repository.NewMemoryJobsRepository(),
		producer: &capturingProducer{},
		blobs:    blobs,
	}
	h.service = NewJobsService(Dependencies{
		Repo:     h.repo,
		Producer: h.producer,
		Catalog:  render.NewCatalog(nil),
		Blobs:    h.blobs,
		Links:    signer,
	})
	return h
}

func (h *harness) complete(t *testing.T, job *domain.ReportJob) {
	t.Helper()
	key := ArtifactKey(job.ID, "trips.pdf")
	size, err := h.blobs.Put(context.Background(), key, []byte("%PDF-1.3"), "application/pdf")
	require.NoError(t, err)
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.ArtifactKey = key
	job.ArtifactFilename = "trips.pdf"
	job.ArtifactContentType = "application/pdf"
	job.ArtifactSize = size
	require.NoError(t, h.repo.UpdateJob(context.Background(), job))
}

func TestSubmitCreatesStartingJobAndEnqueues(t *testing.T) {
	h := newHarness(t, nil)

	job, err := h.service.Submit(context.Background(), " trips ", map[string]string{"vehicleId": "V1"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStarting, job.Status)
	assert.Equal(t, "trips", job.ReportKind)
	assert.Zero(t, job.Progress)

	require.Len(t, h.producer.messages, 1)
	assert.Equal(t, job.ID, h.producer.messages[0].JobID)
	assert.Equal(t, "V1", h.producer.messages[0].Scope["vehicleId"])

	stored, err := h.service.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStarting, stored.Status)
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.service.Submit(context.Background(), "payroll", nil)
	require.ErrorIs(t, err, ErrUnknownReportKind)
	assert.Empty(t, h.producer.messages)
}

func TestSubmitMarksJobFailedWhenQueueRejects(t *testing.T) {
	h := newHarness(t, nil)
	h.producer.err = errors.New("queue backpressure")

	_, err := h.service.Submit(context.Background(), "fuel", nil)
	require.Error(t, err)

	jobs, total, err := h.service.ListJobs(context.Background(), domain.JobListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Message, "queue backpressure")
}

func TestOpenArtifactBeforeCompletion(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.service.Submit(context.Background(), "trips", nil)
	require.NoError(t, err)

	_, err = h.service.OpenArtifact(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrNotReady)

	_, err = h.service.ArtifactURL(context.Background(), job.ID, "http://api.test")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = h.service.OpenArtifact(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOpenArtifactAfterCompletion(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.service.Submit(context.Background(), "trips", nil)
	require.NoError(t, err)
	h.complete(t, job)

	artifact, err := h.service.OpenArtifact(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), artifact.Data)
	assert.Equal(t, "trips.pdf", artifact.Filename)
	assert.Equal(t, "application/pdf", artifact.ContentType)
}

func TestArtifactURLSignedLinkRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.service.Submit(context.Background(), "trips", nil)
	require.NoError(t, err)
	h.complete(t, job)

	grant, err := h.service.ArtifactURL(context.Background(), job.ID, "http://api.test/")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(grant.URL, "http://api.test/v1/downloads/"))
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), grant.ExpiresAt, 5*time.Second)

	parsed, err := url.Parse(grant.URL)
	require.NoError(t, err)
	token := strings.TrimPrefix(parsed.Path, "/v1/downloads/")

	artifact, err := h.service.OpenDownload(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, job.ID, artifact.JobID)
	assert.Equal(t, "trips.pdf", artifact.Filename)

	_, err = h.service.OpenDownload(context.Background(), token+"x")
	require.ErrorIs(t, err, linksign.ErrInvalidLink)
}

func TestArtifactURLPrefersPresignedStore(t *testing.T) {
	h := newHarness(t, presigningStore{MemoryStore: blob.NewMemoryStore()})
	job, err := h.service.Submit(context.Background(), "trips", nil)
	require.NoError(t, err)
	h.complete(t, job)

	grant, err := h.service.ArtifactURL(context.Background(), job.ID, "http://api.test")
	require.NoError(t, err)
	assert.Equal(t, "https://objects.example.test/reports/"+job.ID+"/trips.pdf?ttl=5m0s", grant.URL)
}
