package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func newSweepService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestSweepRunsEveryJobDespiteFailures(t *testing.T) {
	healthy := &countingJob{name: "healthy"}
	broken := &countingJob{name: "broken", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newSweepService(t, lock, broken, healthy)

	if err := service.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if broken.runs != 1 || healthy.runs != 1 {
		t.Fatalf("expected both jobs to run once, got broken=%d healthy=%d", broken.runs, healthy.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestSweepSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &countingJob{name: "solo"}
	lock := &fakeLock{held: true}
	service := newSweepService(t, lock, job)

	if err := service.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d times", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("lock released without being held")
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
