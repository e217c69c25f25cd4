package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TrackBridge/internal/broker/messages"
	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/BearBump/TrackBridge/internal/services/posindex"
	"github.com/BearBump/TrackBridge/internal/services/reconciler"
	"github.com/BearBump/TrackBridge/internal/sessionstore"
	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	publishAttempts = 3
	publishDelay    = 150 * time.Millisecond
	publishMaxDelay = time.Second
)

// Run executes a run immediately, then one more every poll interval
// (measured from the end of the previous run) or on Trigger.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-p.triggerCh:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		}

		if _, err := p.RunOnce(ctx); err != nil {
			slog.Error("run failed", "error", err.Error())
		}
		t.Reset(p.pollInterval)
	}
}

// RunOnce performs one reconciliation. Only tracker list fetches, session
// login and session persistence fail the run; everything per device is
// isolated and logged.
func (p *Poller) RunOnce(ctx context.Context) (sum models.RunSummary, err error) {
	p.running.Store(true)
	sum = models.RunSummary{ID: uuid.NewString(), StartedAt: p.now()}
	p.journalStart(ctx, sum)

	defer func() {
		sum.FinishedAt = p.now()
		sum.Error = errString(err)
		p.finish(ctx, sum, err)
	}()

	devices, err := p.tracker.FetchDevices(ctx)
	if err != nil {
		return sum, err
	}
	positions, err := p.tracker.FetchPositions(ctx)
	if err != nil {
		return sum, err
	}
	idx := posindex.Build(positions)

	if l, ok := p.store.(sessionstore.Locker); ok {
		unlock, lerr := l.Lock(ctx)
		if lerr != nil {
			return sum, lerr
		}
		defer unlock()
	}

	state, err := p.store.Load(ctx)
	if err != nil {
		return sum, err
	}
	sess, err := p.provider.Login(ctx, state)
	if err != nil {
		return sum, errors.Wrap(err, "history login")
	}
	slog.Info("logged in", "account", sess.AccountName(), "run_id", sum.ID)

	defer func() {
		if perr := p.persist(ctx, sess); perr != nil && err == nil {
			err = perr
		}
	}()

	rec := reconciler.New(p.fwd).WithObserver(p.observePush(sum.ID))
	for _, d := range devices {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Devices++
		res, derr := p.reconcileDevice(ctx, rec, d, idx, sess)
		if derr != nil {
			sum.DevicesFailed++
			p.metrics.Devices.WithLabelValues("failed").Inc()
			slog.Error("device failed", "device", d.ID, "unique_id", d.UniqueID, "error", derr.Error())
			continue
		}
		p.metrics.Devices.WithLabelValues("ok").Inc()
		countReports(&sum, res)
	}
	return sum, nil
}

// persist flushes session state even when the run context is already done.
func (p *Poller) persist(ctx context.Context, sess history.Session) error {
	state, err := sess.State()
	if err != nil {
		return errors.Wrap(err, "session state")
	}
	if err := p.store.Save(context.WithoutCancel(ctx), state); err != nil {
		return err
	}
	return nil
}

func (p *Poller) reconcileDevice(ctx context.Context, rec *reconciler.Reconciler, d models.Device, idx posindex.Index, sess history.Session) (res reconciler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	latest := idx.Latest(d.ID)
	latestText := "none"
	if latest != nil {
		latestText = latest.Format(time.RFC3339)
	}
	slog.Info("device", "device", d.ID, "unique_id", d.UniqueID, "latest", latestText)

	key, err := p.deriveKey(d.UniqueID)
	if err != nil {
		return res, err
	}
	if err := p.throttle(ctx); err != nil {
		return res, err
	}
	return rec.Reconcile(ctx, d, key, latest, sess)
}

// throttle waits for the next minute window when the shared history limit is hit.
func (p *Poller) throttle(ctx context.Context) error {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return nil
	}
	now := p.now()
	minuteKey := fmt.Sprintf("rl:history:%s", now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	slog.Warn("history rate limit exceeded", "count", n, "wait", wait.String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func countReports(sum *models.RunSummary, res reconciler.Result) {
	for _, rr := range res.Reports {
		switch rr.Status {
		case models.FreshnessNew:
			sum.ReportsNew++
		case models.FreshnessStale:
			sum.ReportsStale++
		case models.FreshnessNoReport:
			sum.ReportsNoReport++
		}
		if rr.Push == nil {
			continue
		}
		switch rr.Push.Outcome {
		case models.PushOK:
			sum.PushedOK++
		case models.PushRejected:
			sum.PushedRejected++
		case models.PushError:
			sum.PushedError++
		}
	}
}

func (p *Poller) observePush(runID string) reconciler.PushObserver {
	return func(ctx context.Context, d models.Device, r models.LocationReport, res models.PushResult) {
		p.metrics.Pushes.WithLabelValues(res.Outcome).Inc()
		if res.Outcome == models.PushOK {
			p.totalPushed.Add(1)
		}

		rec := models.PushRecord{
			RunID:       runID,
			DeviceID:    d.ID,
			UniqueID:    d.UniqueID,
			Outcome:     res.Outcome,
			HTTPStatus:  res.HTTPStatus,
			Detail:      res.Body,
			AttemptedAt: p.now(),
		}
		if r.Timestamp != nil {
			rec.FixTime = *r.Timestamp
		}
		if res.Err != nil {
			rec.Detail = res.Err.Error()
		}

		if p.journal != nil {
			if err := p.journal.RecordPush(ctx, rec); err != nil {
				slog.Warn("journal push", "device", d.ID, "error", err.Error())
			}
		}
		if p.producer != nil {
			if err := p.publish(ctx, rec, r); err != nil {
				slog.Warn("publish push outcome", "device", d.ID, "error", err.Error())
			}
		}
	}
}

func (p *Poller) publish(ctx context.Context, rec models.PushRecord, r models.LocationReport) error {
	msg := messages.FixForwarded{
		RunID:       rec.RunID,
		DeviceID:    rec.DeviceID,
		UniqueID:    rec.UniqueID,
		FixTime:     rec.FixTime,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Outcome:     rec.Outcome,
		HTTPStatus:  rec.HTTPStatus,
		AttemptedAt: rec.AttemptedAt,
	}
	if rec.Outcome == models.PushError {
		d := rec.Detail
		msg.Error = &d
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может быть не готова сразу после старта docker compose.
	return retry.Do(func() error {
		return p.producer.Publish(ctx, p.topic, []byte(rec.UniqueID), b)
	}, retry.Attempts(publishAttempts), retry.Delay(publishDelay), retry.MaxDelay(publishMaxDelay))
}

func (p *Poller) journalStart(ctx context.Context, sum models.RunSummary) {
	if p.journal == nil {
		return
	}
	if err := p.journal.StartRun(ctx, sum); err != nil {
		slog.Warn("journal run start", "run_id", sum.ID, "error", err.Error())
	}
}

func (p *Poller) finish(ctx context.Context, sum models.RunSummary, err error) {
	p.running.Store(false)
	p.totalRuns.Add(1)
	p.totalDevices.Add(int64(sum.Devices))
	p.failedDevices.Add(int64(sum.DevicesFailed))
	p.lastRunUnixNano.Store(sum.FinishedAt.UnixNano())
	p.setLastRun(sum)
	p.metrics.LastRunSecond.Set(float64(sum.FinishedAt.Unix()))
	p.metrics.Reports.WithLabelValues(models.FreshnessNew).Add(float64(sum.ReportsNew))
	p.metrics.Reports.WithLabelValues(models.FreshnessStale).Add(float64(sum.ReportsStale))
	p.metrics.Reports.WithLabelValues(models.FreshnessNoReport).Add(float64(sum.ReportsNoReport))

	if err != nil {
		p.failedRuns.Add(1)
		p.setLastError(err)
		p.metrics.Runs.WithLabelValues("failed").Inc()
	} else {
		p.metrics.Runs.WithLabelValues("ok").Inc()
	}

	if p.journal != nil {
		if jerr := p.journal.FinishRun(context.WithoutCancel(ctx), sum); jerr != nil {
			slog.Warn("journal run finish", "run_id", sum.ID, "error", jerr.Error())
		}
	}
	slog.Info("run finished",
		"run_id", sum.ID, "devices", sum.Devices, "devices_failed", sum.DevicesFailed,
		"new", sum.ReportsNew, "stale", sum.ReportsStale, "no_report", sum.ReportsNoReport,
		"pushed_ok", sum.PushedOK, "pushed_rejected", sum.PushedRejected, "pushed_error", sum.PushedError,
		"duration", sum.FinishedAt.Sub(sum.StartedAt).String())
}
