package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPublisher struct {
	mu   sync.Mutex
	jobs []*SyncJob
}

func (p *countingPublisher) PublishSync(_ context.Context, job *SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func TestSchedulerPublishesOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pub := &countingPublisher{}
	s := &Scheduler{Publisher: pub, Interval: 5 * time.Millisecond, RunImmediately: true}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, TriggerSchedule, pub.jobs[0].Trigger)
	assert.Equal(t, JobTypeFullSync, pub.jobs[0].Type)
}

func TestSchedulerDisabled(t *testing.T) {
	pub := &countingPublisher{}
	(&Scheduler{Publisher: pub}).Run(context.Background())
	assert.Zero(t, pub.count())
}
