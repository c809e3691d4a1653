// Package scheduler runs the daily reminder dispatch in the background.
package scheduler

import (
	"context"
	"log"
	"time"
)

// ReminderRunner is the single scheduled task. SendReminders returns false when
// another process holds the scheduling lock, which is a normal outcome here.
type ReminderRunner interface {
	SendReminders() (bool, error)
}

// Worker fires the reminder dispatch once per day at a fixed UTC hour. Several
// workers may run against the same database; the scheduling lock ensures only
// one of them dispatches per day.
type Worker struct {
	runner   ReminderRunner
	hourUTC  int
	now      func() time.Time
	stopChan chan struct{}
}

func NewWorker(runner ReminderRunner, hourUTC int) *Worker {
	return &Worker{
		runner:   runner,
		hourUTC:  hourUTC,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the schedule loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("scheduler: reminder worker started (daily at %02d:00 UTC)", w.hourUTC)
	go w.loop(ctx)
}

// Stop signals the loop to exit.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) loop(ctx context.Context) {
	for {
		wait := time.Until(w.nextRun())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("scheduler: context cancelled, reminder worker stopping")
			return
		case <-w.stopChan:
			timer.Stop()
			log.Printf("scheduler: stop signal received, reminder worker stopping")
			return
		case <-timer.C:
			w.run()
		}
	}
}

// nextRun returns the next occurrence of the configured hour, strictly after now.
func (w *Worker) nextRun() time.Time {
	now := w.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), w.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (w *Worker) run() {
	ran, err := w.runner.SendReminders()
	switch {
	case err != nil:
		log.Printf("scheduler: reminder dispatch failed: %v", err)
	case !ran:
		log.Printf("scheduler: reminder dispatch skipped, lock held elsewhere")
	default:
		log.Printf("scheduler: reminder dispatch completed")
	}
}
