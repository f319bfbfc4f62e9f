// internal/automation/runner.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/history"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

// ErrBusy is returned by Start while another run holds the slot.
var ErrBusy = errors.New("an automation run is already in progress")

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"

	recordTimeout = 5 * time.Second
)

// HistoryRecorder stores finished runs.
type HistoryRecorder interface {
	Record(ctx context.Context, rec history.SendRecord) error
}

// Job is one queued send.
type Job struct {
	SessionID string
	Request   SendRequest
}

// RunnerOptions holds the optional collaborators of a Runner.
type RunnerOptions struct {
	// Timeout bounds a whole run. Zero means no bound beyond the base context.
	Timeout time.Duration
	History HistoryRecorder
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Runner executes sends in the background, one at a time.
type Runner struct {
	baseCtx  context.Context
	sender   Sender
	reporter Reporter
	tracker  *Tracker
	timeout  time.Duration
	history  HistoryRecorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewRunner creates a Runner. Runs derive their context from ctx, so
// cancelling it aborts an active run.
func NewRunner(ctx context.Context, sender Sender, reporter Reporter, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Runner{
		baseCtx:  ctx,
		sender:   sender,
		reporter: reporter,
		tracker:  NewTracker(),
		timeout:  opts.Timeout,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger.Named("automation"),
		now:      time.Now,
	}
}

// Status returns the current automation status.
func (r *Runner) Status() Status {
	return r.tracker.Snapshot()
}

// Busy reports whether a run is active.
func (r *Runner) Busy() bool {
	return r.tracker.Busy()
}

// Start launches job in the background and returns its run id, or ErrBusy
// when a run is already active.
func (r *Runner) Start(job Job) (string, error) {
	runID := uuid.NewString()
	startedAt := r.now()

	if !r.tracker.begin(runID, startedAt) {
		r.metrics.ObserveRun(outcomeRejected, 0)
		r.logger.Info("Rejected send, a run is already active.", zap.String("session_id", job.SessionID))
		return "", ErrBusy
	}

	r.wg.Add(1)
	go r.execute(runID, startedAt, job)
	return runID, nil
}

// Wait blocks until the active run, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(runID string, startedAt time.Time, job Job) {
	defer r.wg.Done()

	log := r.logger.With(zap.String("run_id", runID), zap.String("session_id", job.SessionID))
	ctx, cancel := r.runContext()
	defer cancel()

	log.Info("Automation run started.", zap.String("recipient", job.Request.Recipient))
	r.reporter.Message(MessageSystem, "Starting email automation...")

	err := r.perform(ctx, job.Request)
	finishedAt := r.now()

	errMsg, outcome := "", outcomeSuccess
	content := job.Request.Content
	if err != nil {
		errMsg, outcome = err.Error(), outcomeFailure
		log.Error("Automation run failed.", zap.Error(err), zap.Duration("duration", finishedAt.Sub(startedAt)))
	} else {
		log.Info("Automation run succeeded.", zap.Duration("duration", finishedAt.Sub(startedAt)))
	}

	r.record(log, history.SendRecord{
		ID:         runID,
		SessionID:  job.SessionID,
		Recipient:  job.Request.Recipient,
		Login:      job.Request.Login,
		Subject:    content.Subject,
		Success:    err == nil,
		Error:      errMsg,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})
	r.metrics.ObserveRun(outcome, finishedAt.Sub(startedAt).Seconds())

	// The slot is free before the result is announced.
	r.tracker.finish(errMsg)
	if err != nil {
		r.reporter.Message(MessageError, "❌ Error: "+errMsg)
		return
	}
	r.reporter.Complete(true, fmt.Sprintf("Email sent successfully to %s!", job.Request.Recipient), content)
	r.reporter.Message(MessageSuccess, fmt.Sprintf("✅ Email sent to %s!\n\nSubject: %s", job.Request.Recipient, content.Subject))
}

func (r *Runner) runContext() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(r.baseCtx, r.timeout)
	}
	return context.WithCancel(r.baseCtx)
}

// perform runs the sender, turning a panic into an error.
func (r *Runner) perform(ctx context.Context, req SendRequest) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("automation panicked: %v", rec)
		}
	}()
	return r.sender.PerformSend(ctx, req, trackingReporter{Reporter: r.reporter, tracker: r.tracker})
}

func (r *Runner) record(log *zap.Logger, rec history.SendRecord) {
	if r.history == nil {
		return
	}
	// The run context may already be done; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.baseCtx), recordTimeout)
	defer cancel()
	if err := r.history.Record(ctx, rec); err != nil {
		log.Warn("Failed to record send history.", zap.Error(err))
	}
}
