package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/EternisAI/mailbroker/internal/extract"
	"github.com/EternisAI/mailbroker/internal/provider"
)

const notifyTimeout = 15 * time.Second

func (e *Engine) poll(ctx context.Context, requesterID, handle string) {
	address := provider.AddressOf(handle)
	log := slog.With("requester_id", requesterID, "address", address)
	log.Debug("Polling loop started", "interval", e.cfg.PollInterval)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			log.Debug("Polling loop stopped", "attempts", attempt-1)
			return
		case <-ticker.C:
		}

		if e.tick(ctx, log, requesterID, handle, attempt, started) {
			return
		}
	}
}

// tick runs one poll and reports whether the loop is finished.
func (e *Engine) tick(ctx context.Context, log *slog.Logger, requesterID, handle string, attempt int, started time.Time) bool {
	res, ok, err := e.monitors.Get(ctx, requesterID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Warn("Failed to read monitoring registry", "attempt", attempt, "error", err)
		return e.pollFailed(ctx, log, requesterID, handle, attempt, started)
	}
	if !ok || res.Handle != handle {
		log.Info("Account no longer monitored, stopping loop", "attempt", attempt)
		return true
	}

	content, err := e.provider.GetLatestMessage(ctx, handle, e.cfg.Folder)
	if ctx.Err() != nil {
		// Cancelled while the request was in flight; its result is dropped.
		return true
	}
	if err != nil {
		log.Debug("No message yet", "attempt", attempt, "error", err)
		return e.pollFailed(ctx, log, requesterID, handle, attempt, started)
	}

	e.deliver(ctx, log, requesterID, handle, content, attempt)
	return true
}

func (e *Engine) pollFailed(ctx context.Context, log *slog.Logger, requesterID, handle string, attempt int, started time.Time) bool {
	if e.exhausted(attempt, started) {
		e.expire(ctx, log, requesterID, handle, attempt)
		return true
	}

	if attempt%e.cfg.NoticeEvery == 0 {
		e.notify(ctx, log, Notice{
			Kind:        NoticeProgress,
			RequesterID: requesterID,
			Address:     provider.AddressOf(handle),
			Attempt:     attempt,
		})
	}
	return false
}

func (e *Engine) exhausted(attempt int, started time.Time) bool {
	if e.cfg.MaxAttempts > 0 && attempt >= e.cfg.MaxAttempts {
		return true
	}
	if e.cfg.MaxDuration > 0 && time.Since(started) >= e.cfg.MaxDuration {
		return true
	}
	return false
}

func (e *Engine) deliver(ctx context.Context, log *slog.Logger, requesterID, handle, content string, attempt int) {
	current, err := e.release(ctx, requesterID, handle)
	if err != nil {
		// The code is still worth sending; the stale record can be cleared
		// with a cancel.
		log.Error("Failed to clear monitoring after delivery", "error", err)
	} else if !current {
		log.Info("Account released before delivery, dropping message")
		return
	}

	code, found := extract.Code(content)
	log.Info("Verification message received", "attempt", attempt, "code_found", found)

	e.notify(ctx, log, Notice{
		Kind:        NoticeDelivered,
		RequesterID: requesterID,
		Address:     provider.AddressOf(handle),
		Code:        code,
		Content:     extract.Truncate(content, e.cfg.MaxContentLength),
		Attempt:     attempt,
	})
}

func (e *Engine) expire(ctx context.Context, log *slog.Logger, requesterID, handle string, attempt int) {
	current, err := e.release(ctx, requesterID, handle)
	if err != nil {
		log.Error("Failed to clear monitoring after timeout", "error", err)
	} else if !current {
		return
	}

	log.Warn("Monitoring timed out", "attempts", attempt)
	e.notify(ctx, log, Notice{
		Kind:        NoticeTimeout,
		RequesterID: requesterID,
		Address:     provider.AddressOf(handle),
		Attempt:     attempt,
	})
}

// release clears the requester's record if it still holds handle and
// reports whether it did.
func (e *Engine) release(ctx context.Context, requesterID, handle string) (bool, error) {
	unlock := e.locks.Lock(requesterID)
	defer unlock()

	res, ok, err := e.monitors.Get(ctx, requesterID)
	if err != nil {
		return false, err
	}
	if !ok || res.Handle != handle {
		return false, nil
	}
	if err := e.monitors.Clear(ctx, requesterID); err != nil {
		return false, err
	}
	return true, nil
}

// notify is best effort and outlives loop cancellation so a found code is
// still sent during shutdown.
func (e *Engine) notify(ctx context.Context, log *slog.Logger, n Notice) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Warn("Failed to send notice", "kind", n.Kind, "error", err)
	}
}
