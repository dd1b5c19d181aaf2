package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/delivery"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

type BackendSelector interface {
	Select(kind model.BackendKind) (delivery.Backend, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Hook observes the final result of one contact. Errors are logged only.
type Hook func(ctx context.Context, runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) error

type Request struct {
	Contacts    []model.Contact
	Template    string
	Attachments []model.Attachment
	Config      model.DeliveryConfig
}

// Dispatcher delivers a contact list strictly sequentially in paced batches.
type Dispatcher struct {
	backends BackendSelector
	sleep    Sleeper
	log      *slog.Logger
	newRunID func() string

	onSent   Hook
	onFailed Hook
}

func NewDispatcher(backends BackendSelector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		backends: backends,
		sleep:    SleepContext,
		log:      logger.With("component", "dispatcher"),
		newRunID: uuid.NewString,
	}
}

func (d *Dispatcher) WithSleeper(s Sleeper) *Dispatcher {
	d.sleep = s
	return d
}

func (d *Dispatcher) WithHooks(onSent, onFailed Hook) *Dispatcher {
	d.onSent = onSent
	d.onFailed = onFailed
	return d
}

// Partition splits contacts into contiguous batches of at most size,
// preserving order.
func Partition(contacts []model.Contact, size int) [][]model.Contact {
	if size <= 0 {
		size = model.DefaultBatchSize
	}
	batches := make([][]model.Contact, 0, (len(contacts)+size-1)/size)
	for start := 0; start < len(contacts); start += size {
		end := min(start+size, len(contacts))
		batches = append(batches, contacts[start:end])
	}
	return batches
}

// Dispatch returns exactly one result per contact, in input order. It never
// aborts on a per-contact failure; on context cancellation the remaining
// contacts are reported as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) model.Report {
	cfg := req.Config.WithDefaults()
	runID := d.newRunID()
	log := d.log.With("run_id", runID, "backend", string(cfg.Backend))
	start := time.Now()

	dispatchRunsCounter.WithLabelValues(string(cfg.Backend)).Inc()
	defer func() {
		dispatchDurationHist.WithLabelValues(string(cfg.Backend)).Observe(time.Since(start).Seconds())
	}()

	results := make([]model.MessageResult, 0, len(req.Contacts))

	backend, err := d.backends.Select(cfg.Backend)
	if err != nil {
		log.ErrorContext(ctx, "no delivery backend", "error", err)
		for _, c := range req.Contacts {
			results = append(results, d.finish(ctx, log, runID, cfg, c, model.MessageResult{
				ContactID: c.ID,
				Error:     err.Error(),
			}))
		}
		return d.report(log, runID, results)
	}

	batches := Partition(req.Contacts, cfg.BatchSize)
	log.InfoContext(ctx, "dispatch started",
		"contacts", len(req.Contacts),
		"batches", len(batches),
		"batch_size", cfg.BatchSize,
		"max_retries", cfg.MaxRetries,
	)

	first := true
	for bi, batch := range batches {
		for _, c := range batch {
			var res model.MessageResult
			if err := ctx.Err(); err != nil {
				res = cancelled(c.ID, err)
			} else {
				res = d.deliver(ctx, log, backend, req, cfg, c, bi, &first)
			}
			results = append(results, d.finish(ctx, log, runID, cfg, c, res))
		}

		if bi < len(batches)-1 && ctx.Err() == nil {
			log.InfoContext(ctx, "batch complete, pausing", "batch", bi, "delay", cfg.BatchDelay.String())
			_ = d.sleep(ctx, cfg.BatchDelay)
		}
	}

	return d.report(log, runID, results)
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	log *slog.Logger,
	backend delivery.Backend,
	req Request,
	cfg model.DeliveryConfig,
	c model.Contact,
	batch int,
	first *bool,
) model.MessageResult {
	message := req.Template
	if c.Message != "" {
		message = c.Message
	}

	if !*first {
		if err := d.sleep(ctx, cfg.MessageDelay); err != nil {
			return cancelled(c.ID, err)
		}
	}
	*first = false

	var lastErr string
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		res := d.attempt(ctx, backend, c, message, req.Attachments)
		if res.Success {
			dispatchAttemptsHist.WithLabelValues(string(cfg.Backend)).Observe(float64(attempt))
			res.ContactID = c.ID
			return res
		}

		lastErr = res.Error
		log.WarnContext(ctx, "send attempt failed",
			"contact_id", c.ID,
			"contact_name", c.Name,
			"phone", c.Phone,
			"attempt", attempt,
			"batch", batch,
			"error", res.Error,
		)

		if attempt < cfg.MaxRetries {
			if err := d.sleep(ctx, cfg.MessageDelay); err != nil {
				dispatchAttemptsHist.WithLabelValues(string(cfg.Backend)).Observe(float64(attempt))
				return cancelled(c.ID, err)
			}
		}
	}

	dispatchAttemptsHist.WithLabelValues(string(cfg.Backend)).Observe(float64(cfg.MaxRetries))
	return model.MessageResult{ContactID: c.ID, Success: false, Error: lastErr}
}

func (d *Dispatcher) attempt(ctx context.Context, backend delivery.Backend, c model.Contact, message string, atts []model.Attachment) (res model.MessageResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.MessageResult{
				ContactID: c.ID,
				Error:     fmt.Errorf("%w: panic: %v", delivery.ErrSendFailure, r).Error(),
			}
		}
	}()
	return backend.Send(ctx, c, message, atts)
}

func (d *Dispatcher) finish(ctx context.Context, log *slog.Logger, runID string, cfg model.DeliveryConfig, c model.Contact, res model.MessageResult) model.MessageResult {
	dispatchMessagesCounter.WithLabelValues(string(cfg.Backend), string(res.Status())).Inc()

	hook := d.onFailed
	if res.Success {
		hook = d.onSent
	} else {
		log.ErrorContext(ctx, "contact delivery failed",
			"contact_id", c.ID,
			"contact_name", c.Name,
			"phone", c.Phone,
			"error", res.Error,
		)
	}
	if hook != nil {
		if err := hook(context.WithoutCancel(ctx), runID, cfg.Backend, c, res); err != nil {
			log.WarnContext(ctx, "result hook failed", "contact_id", c.ID, "error", err)
		}
	}
	return res
}

func (d *Dispatcher) report(log *slog.Logger, runID string, results []model.MessageResult) model.Report {
	summary := model.Summarize(results)
	log.Info("dispatch finished",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
	)
	return model.Report{RunID: runID, Results: results, Summary: summary}
}

func cancelled(contactID string, err error) model.MessageResult {
	return model.MessageResult{ContactID: contactID, Error: fmt.Sprintf("dispatch cancelled: %v", err)}
}
