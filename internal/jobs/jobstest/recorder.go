// Package jobstest provides an in-memory jobs.Queue for tests.
package jobstest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/marquee/catalog/internal/jobs"
)

// Recorder keeps every enqueued job. Set Err to make Enqueue fail.
type Recorder struct {
	mu   sync.Mutex
	jobs []jobs.Job
	Err  error
}

func (r *Recorder) Enqueue(_ context.Context, job jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Recorder) Jobs() []jobs.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jobs.Job(nil), r.jobs...)
}

// OfType returns the recorded jobs with the given type.
func (r *Recorder) OfType(jobType string) []jobs.Job {
	var out []jobs.Job
	for _, j := range r.Jobs() {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// Payload decodes the payload of job into dst and panics on malformed JSON.
func Payload(job jobs.Job, dst any) {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		panic(err)
	}
}
