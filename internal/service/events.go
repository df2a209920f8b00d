package service

import (
	"sync"

	"github.com/iago/fleet-reports/internal/domain"
)

const subscriberBuffer = 16

// JobEvents fans job transitions out to live subscribers, keyed by job ID.
// A slow subscriber loses intermediate transitions, never the latest one.
type JobEvents struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.ReportJob]struct{}
}

func NewJobEvents() *JobEvents {
	return &JobEvents{subs: make(map[string]map[chan domain.ReportJob]struct{})}
}

func (e *JobEvents) Subscribe(jobID string) (<-chan domain.ReportJob, func()) {
	ch := make(chan domain.ReportJob, subscriberBuffer)

	e.mu.Lock()
	if e.subs[jobID] == nil {
		e.subs[jobID] = make(map[chan domain.ReportJob]struct{})
	}
	e.subs[jobID][ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs[jobID], ch)
			if len(e.subs[jobID]) == 0 {
				delete(e.subs, jobID)
			}
		})
	}
}

func (e *JobEvents) Publish(job domain.ReportJob) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subs[job.ID] {
		for {
			select {
			case ch <- job:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (e *JobEvents) subscribers(jobID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[jobID])
}
