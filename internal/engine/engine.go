// Package engine runs the acquire -> monitor -> deliver -> cleanup lifecycle.
//
// A requester is IDLE while the monitoring registry holds nothing for it.
// Acquire buys one account and records it (MONITORING), after which a polling
// loop checks the inbox until a message arrives (DELIVERED, record cleared),
// the requester cancels, or an optional ceiling is reached. The registry is
// the source of truth: every tick re-reads it and a loop whose handle is no
// longer recorded exits on its own. Loops also carry a context that Cancel
// fires, so teardown normally happens immediately.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/provider"
)

// bookkeepingTimeout bounds the writes that follow a successful purchase.
const bookkeepingTimeout = 15 * time.Second

var (
	ErrAlreadyMonitoring = errors.New("resource already under monitoring")
	ErrAcquireInProgress = errors.New("an acquisition is already in progress")
	ErrEmptyAcquisition  = errors.New("provider reported success but returned no account")
	ErrNotMonitoring     = errors.New("no resource under monitoring")
)

type Provider interface {
	AcquireAccounts(ctx context.Context, mailType string, quantity int) ([]string, error)
	GetLatestMessage(ctx context.Context, handle string, folder string) (string, error)
}

type MonitorStore interface {
	Get(ctx context.Context, requesterID string) (monitoring.Resource, bool, error)
	Reserve(ctx context.Context, requesterID, handle string) (bool, error)
	Clear(ctx context.Context, requesterID string) error
	List(ctx context.Context) ([]monitoring.Resource, error)
}

type UsageRecorder interface {
	Increment(ctx context.Context, requesterID string, by int64) error
}

type Acquisition struct {
	RequesterID string
	MailType    string
	Handle      string
	Address     string
}

type Engine struct {
	provider Provider
	monitors MonitorStore
	usage    UsageRecorder
	notifier Notifier
	cfg      Config

	locks *requesterLocks

	mu    sync.Mutex
	loops map[string]*pollLoop
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

type pollLoop struct {
	handle string
	cancel context.CancelFunc
}

func New(p Provider, monitors MonitorStore, usage UsageRecorder, notifier Notifier, cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		provider: p,
		monitors: monitors,
		usage:    usage,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		locks:    newRequesterLocks(),
		loops:    make(map[string]*pollLoop),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Acquire buys one account of mailType for requesterID and starts watching
// its inbox. A requester can hold at most one account at a time; a second
// call while the first is still talking to the provider fails fast.
func (e *Engine) Acquire(ctx context.Context, requesterID string, mailType string) (Acquisition, error) {
	unlock, ok := e.locks.TryLock(requesterID)
	if !ok {
		return Acquisition{}, ErrAcquireInProgress
	}
	defer unlock()

	if _, ok, err := e.monitors.Get(ctx, requesterID); err != nil {
		return Acquisition{}, err
	} else if ok {
		return Acquisition{}, ErrAlreadyMonitoring
	}

	handles, err := e.provider.AcquireAccounts(ctx, mailType, 1)
	if err != nil {
		slog.Warn("Account acquisition failed", "requester_id", requesterID, "mail_type", mailType, "error", err)
		return Acquisition{}, fmt.Errorf("acquire %s account: %w", mailType, err)
	}
	if len(handles) == 0 {
		slog.Error("Provider returned an empty acquisition", "requester_id", requesterID, "mail_type", mailType)
		return Acquisition{}, ErrEmptyAcquisition
	}
	handle := handles[0]

	// The account is paid for from here on, so it is recorded even if the
	// caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	// Another instance sharing the store may have won since the check above.
	reserved, err := e.monitors.Reserve(ctx, requesterID, handle)
	if err != nil {
		return Acquisition{}, err
	}
	if !reserved {
		slog.Warn("Acquired account discarded, requester already monitoring",
			"requester_id", requesterID,
			"address", provider.AddressOf(handle))
		return Acquisition{}, ErrAlreadyMonitoring
	}

	// A lost count is preferable to hiding an account the requester owns.
	if err := e.usage.Increment(ctx, requesterID, 1); err != nil {
		slog.Error("Failed to record usage", "requester_id", requesterID, "error", err)
	}

	e.startLoop(requesterID, handle)

	result := Acquisition{
		RequesterID: requesterID,
		MailType:    mailType,
		Handle:      handle,
		Address:     provider.AddressOf(handle),
	}
	slog.Info("Account acquired, monitoring started",
		"requester_id", requesterID,
		"mail_type", mailType,
		"address", result.Address)
	return result, nil
}

// Cancel drops the requester's monitored account and returns its handle.
func (e *Engine) Cancel(ctx context.Context, requesterID string) (string, error) {
	unlock := e.locks.Lock(requesterID)
	defer unlock()

	res, ok, err := e.monitors.Get(ctx, requesterID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotMonitoring
	}

	if err := e.monitors.Clear(ctx, requesterID); err != nil {
		return "", err
	}
	e.stopLoop(requesterID, res.Handle)

	slog.Info("Monitoring cancelled",
		"requester_id", requesterID,
		"address", provider.AddressOf(res.Handle))
	return res.Handle, nil
}

func (e *Engine) Status(ctx context.Context, requesterID string) (monitoring.Resource, bool, error) {
	return e.monitors.Get(ctx, requesterID)
}

func (e *Engine) Monitored(ctx context.Context) ([]monitoring.Resource, error) {
	return e.monitors.List(ctx)
}

// Resume restarts polling for every record left in the registry, typically
// after a process restart. It returns the number of loops started.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	resources, err := e.monitors.List(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, res := range resources {
		if e.isPolling(res.RequesterID, res.Handle) {
			continue
		}
		e.startLoop(res.RequesterID, res.Handle)
		started++
	}

	if started > 0 {
		slog.Info("Resumed monitoring loops", "count", started)
	}
	return started, nil
}

// Active reports how many polling loops are running.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

// Shutdown stops every loop and waits for them. Registry records are kept so
// a later Resume can pick them up.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) startLoop(requesterID, handle string) {
	e.mu.Lock()
	if prev, ok := e.loops[requesterID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	loop := &pollLoop{handle: handle, cancel: cancel}
	e.loops[requesterID] = loop
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.forget(requesterID, loop)
		e.poll(ctx, requesterID, handle)
	}()
}

// stopLoop only cancels a loop still polling handle, so a cancel racing a
// fresh acquisition cannot tear down the new loop.
func (e *Engine) stopLoop(requesterID, handle string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if loop, ok := e.loops[requesterID]; ok && loop.handle == handle {
		loop.cancel()
		delete(e.loops, requesterID)
	}
}

func (e *Engine) forget(requesterID string, loop *pollLoop) {
	loop.cancel()

	e.mu.Lock()
	if e.loops[requesterID] == loop {
		delete(e.loops, requesterID)
	}
	e.mu.Unlock()
}

func (e *Engine) isPolling(requesterID, handle string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	loop, ok := e.loops[requesterID]
	return ok && loop.handle == handle
}
