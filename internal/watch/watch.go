// Package watch runs audits against a target on a fixed interval and reports
// status transitions. It backs the `vigil watch` command and can be embedded
// by programs that want continuous monitoring of a dependency.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilhq/vigil/internal/audit"
)

const defaultInterval = 60 * time.Second

// Observation is handed to the ReportFunc after every audit run.
type Observation struct {
	WatchID    string
	Sequence   int
	Report     *audit.AuditReport
	Transition bool // status differs from the previous run
	Previous   string
}

// ReportFunc receives each observation. It runs on the watcher goroutine, so
// it should return promptly.
type ReportFunc func(Observation)

// Watcher audits a target repeatedly until stopped.
type Watcher struct {
	auditor  *audit.Auditor
	interval time.Duration
	reportFn ReportFunc
	logger   *slog.Logger

	watchID    string
	sequence   int
	lastStatus string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher. interval <= 0 selects the default of one minute.
// reportFn may be nil; observations are then only logged.
func New(auditor *audit.Auditor, interval time.Duration, reportFn ReportFunc, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		auditor:  auditor,
		interval: interval,
		reportFn: reportFn,
		logger:   logger,
		watchID:  uuid.New().String(),
	}
}

// Start begins the background watch loop. It audits immediately and then
// repeats on the interval. Non-blocking.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.observe(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.observe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the watch loop and waits for the in-flight audit to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Run audits in the foreground until ctx is cancelled. It is the blocking
// counterpart to Start/Stop used by the CLI.
func (w *Watcher) Run(ctx context.Context) {
	w.observe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.observe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) observe(ctx context.Context) {
	report := w.auditor.Audit(ctx)
	if ctx.Err() != nil {
		return
	}

	w.sequence++
	status := report.Status()
	obs := Observation{
		WatchID:    w.watchID,
		Sequence:   w.sequence,
		Report:     report,
		Transition: w.lastStatus != "" && w.lastStatus != status,
		Previous:   w.lastStatus,
	}
	w.lastStatus = status

	if obs.Transition {
		w.logger.Warn("target status changed",
			"target", w.auditor.TargetURL(),
			"from", obs.Previous,
			"to", status,
			"error", report.ErrorMessage(),
		)
	} else {
		w.logger.Info("audit completed",
			"target", w.auditor.TargetURL(),
			"status", status,
			"response_time_ms", report.ResponseTime(),
		)
	}

	if w.reportFn != nil {
		w.reportFn(obs)
	}
}
