package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/mailbroker/internal/kv"
	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/provider"
	"github.com/EternisAI/mailbroker/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testHandle   = "user@outlook.com:secret:refresh:client"
	testInterval = 10 * time.Millisecond
	waitFor      = 2 * time.Second
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProvider struct {
	acquire  func(ctx context.Context, mailType string) ([]string, error)
	messages func(ctx context.Context, call int) (string, error)

	acquireCalls atomic.Int32
	messageCalls atomic.Int32
}

func (f *fakeProvider) AcquireAccounts(ctx context.Context, mailType string, quantity int) ([]string, error) {
	f.acquireCalls.Add(1)
	if f.acquire == nil {
		return []string{testHandle}, nil
	}
	return f.acquire(ctx, mailType)
}

func (f *fakeProvider) GetLatestMessage(ctx context.Context, handle string, folder string) (string, error) {
	call := int(f.messageCalls.Add(1))
	if f.messages == nil {
		return "", &provider.Error{Op: "message", Kind: provider.KindUpstream, Err: provider.ErrNoMessage}
	}
	return f.messages(ctx, call)
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (r *recorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recorder) byKind(kind NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			result = append(result, n)
		}
	}
	return result
}

type fixture struct {
	engine   *Engine
	provider *fakeProvider
	notices  *recorder
	monitors *monitoring.Registry
	usage    *usage.Ledger
}

func newFixture(t *testing.T, p *fakeProvider, cfg Config) *fixture {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = testInterval
	}

	store := kv.NewMemory()
	f := &fixture{
		provider: p,
		notices:  &recorder{},
		monitors: monitoring.NewRegistry(store),
		usage:    usage.NewLedger(store),
	}
	f.engine = New(p, f.monitors, f.usage, f.notices, cfg)
	t.Cleanup(f.engine.Shutdown)
	return f
}

func messageAfter(failures int, content string) func(context.Context, int) (string, error) {
	return func(_ context.Context, call int) (string, error) {
		if call <= failures {
			return "", &provider.Error{Op: "message", Kind: provider.KindUpstream, Err: provider.ErrNoMessage}
		}
		return content, nil
	}
}

func TestAcquireStartsMonitoring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{PollInterval: time.Hour})

	acq, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	assert.Equal(t, Acquisition{
		RequesterID: "user-1",
		MailType:    "outlook",
		Handle:      testHandle,
		Address:     "user@outlook.com",
	}, acq)

	res, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testHandle, res.Handle)

	count, err := f.usage.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.engine.Active())
}

func TestAcquireTakesFirstHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) {
			return []string{"first@x.com:p:r:c", "second@x.com:p:r:c"}, nil
		},
	}, Config{PollInterval: time.Hour})

	acq, err := f.engine.Acquire(ctx, "user-1", "hotmail")
	require.NoError(t, err)
	assert.Equal(t, "first@x.com", acq.Address)
}

func TestAcquireRejectedWhileMonitoring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{PollInterval: time.Hour})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	_, err = f.engine.Acquire(ctx, "user-1", "outlook")
	assert.ErrorIs(t, err, ErrAlreadyMonitoring)
	assert.Equal(t, int32(1), f.provider.acquireCalls.Load())

	count, err := f.usage.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAcquireProviderError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) {
			return nil, &provider.Error{Op: "acquire", Kind: provider.KindUpstream, Message: "out of stock"}
		},
	}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.Error(t, err)

	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "out of stock", perr.Reason())

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := f.usage.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0, f.engine.Active())
}

func TestAcquireEmptyPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) { return nil, nil },
	}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	assert.ErrorIs(t, err, ErrEmptyAcquisition)

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAcquireWhileInFlight(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) {
			close(entered)
			<-release
			return []string{testHandle}, nil
		},
	}, Config{PollInterval: time.Hour})

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.engine.Acquire(ctx, "user-1", "outlook")
		firstErr <- err
	}()
	<-entered

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Acquire(ctx, "user-1", "outlook")
			assert.ErrorIs(t, err, ErrAcquireInProgress)
		}()
	}
	wg.Wait()

	close(release)
	require.NoError(t, <-firstErr)
	assert.Equal(t, int32(1), f.provider.acquireCalls.Load())
}

func TestConcurrentAcquireHoldsAtMostOne(t *testing.T) {
	ctx := context.Background()
	var n atomic.Int32
	f := newFixture(t, &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) {
			return []string{fmt.Sprintf("user%d@x.com:p:r:c", n.Add(1))}, nil
		},
	}, Config{PollInterval: time.Hour})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Acquire(ctx, "user-1", "outlook")
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, ErrAcquireInProgress) {
				assert.ErrorIs(t, err, ErrAlreadyMonitoring)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), f.provider.acquireCalls.Load())

	list, err := f.monitors.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, f.engine.Active())
}

func TestAcquireLosesStorageReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{PollInterval: time.Hour})

	// A second instance records an account between our check and reserve.
	f.provider.acquire = func(ctx context.Context, _ string) ([]string, error) {
		require.NoError(t, f.monitors.Set(ctx, "user-1", "other@x.com:p:r:c"))
		return []string{testHandle}, nil
	}

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	assert.ErrorIs(t, err, ErrAlreadyMonitoring)

	res, _, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "other@x.com:p:r:c", res.Handle)
	assert.Equal(t, 0, f.engine.Active())
}

func TestDeliveryClearsRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		messages: messageAfter(2, "Your Microsoft code is 482913"),
	}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeDelivered)) == 1
	}, waitFor, testInterval)

	delivered := f.notices.byKind(NoticeDelivered)[0]
	assert.Equal(t, "482913", delivered.Code)
	assert.Equal(t, "user-1", delivered.RequesterID)
	assert.Equal(t, "user@outlook.com", delivered.Address)
	assert.Equal(t, 3, delivered.Attempt)

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool { return f.engine.Active() == 0 }, waitFor, testInterval)
	assert.Equal(t, int32(3), f.provider.messageCalls.Load())
}

func TestDeliveryWithoutCodeSendsContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		messages: messageAfter(0, "Welcome to your new mailbox"),
	}, Config{MaxContentLength: 7})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeDelivered)) == 1
	}, waitFor, testInterval)

	delivered := f.notices.byKind(NoticeDelivered)[0]
	assert.Empty(t, delivered.Code)
	assert.Equal(t, "Welcome…", delivered.Content)
}

func TestProgressNotices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{NoticeEvery: 2})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeProgress)) >= 2
	}, waitFor, testInterval)

	progress := f.notices.byKind(NoticeProgress)
	assert.Equal(t, 2, progress[0].Attempt)
	assert.Equal(t, 4, progress[1].Attempt)

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotifierFailureDoesNotStopLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{
		messages: messageAfter(4, "code 5566"),
	}, Config{NoticeEvery: 1})
	f.notices.err = errors.New("chat unavailable")

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeDelivered)) == 1
	}, waitFor, testInterval)
	assert.Len(t, f.notices.byKind(NoticeProgress), 4)
}

func TestCancelStopsLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.provider.messageCalls.Load() >= 2 }, waitFor, testInterval)

	handle, err := f.engine.Cancel(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, testHandle, handle)
	assert.Equal(t, 0, f.engine.Active())

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	calls := f.provider.messageCalls.Load()
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, f.provider.messageCalls.Load())
	assert.Empty(t, f.notices.byKind(NoticeDelivered))
}

func TestCancelWhenIdle(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, Config{})

	_, err := f.engine.Cancel(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNotMonitoring)
}

func TestLoopObservesRegistryClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.provider.messageCalls.Load() >= 1 }, waitFor, testInterval)

	// Cleared behind the engine's back, e.g. by another instance.
	require.NoError(t, f.monitors.Clear(ctx, "user-1"))

	require.Eventually(t, func() bool { return f.engine.Active() == 0 }, waitFor, testInterval)
	calls := f.provider.messageCalls.Load()
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, f.provider.messageCalls.Load())
}

func TestLoopObservesReplacedHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	require.NoError(t, f.monitors.Set(ctx, "user-1", "other@x.com:p:r:c"))

	require.Eventually(t, func() bool { return f.engine.Active() == 0 }, waitFor, testInterval)

	res, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "other@x.com:p:r:c", res.Handle)
}

func TestCancelDropsInFlightResult(t *testing.T) {
	ctx := context.Background()
	inFlight := make(chan struct{}, 1)
	f := newFixture(t, &fakeProvider{
		messages: func(ctx context.Context, call int) (string, error) {
			inFlight <- struct{}{}
			<-ctx.Done()
			// The request completes anyway; its content must not be used.
			return "late code 9876", nil
		},
	}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	<-inFlight

	_, err = f.engine.Cancel(ctx, "user-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.engine.Active() == 0 }, waitFor, testInterval)
	time.Sleep(3 * testInterval)
	assert.Empty(t, f.notices.byKind(NoticeDelivered))
	assert.Equal(t, int32(1), f.provider.messageCalls.Load())
}

func TestMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{MaxAttempts: 3, NoticeEvery: 100})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeTimeout)) == 1
	}, waitFor, testInterval)

	assert.Equal(t, 3, f.notices.byKind(NoticeTimeout)[0].Attempt)
	assert.Equal(t, int32(3), f.provider.messageCalls.Load())

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return f.engine.Active() == 0 }, waitFor, testInterval)
}

func TestMaxDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{MaxDuration: 5 * testInterval, NoticeEvery: 1000})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeTimeout)) == 1
	}, waitFor, testInterval)

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnboundedByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{NoticeEvery: 1000})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.provider.messageCalls.Load() >= 20 }, waitFor, testInterval)
	assert.Empty(t, f.notices.byKind(NoticeTimeout))
	assert.Equal(t, 1, f.engine.Active())
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{})

	require.NoError(t, f.monitors.Set(ctx, "user-1", "a@x.com:p:r:c"))
	require.NoError(t, f.monitors.Set(ctx, "user-2", "b@x.com:p:r:c"))

	started, err := f.engine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, f.engine.Active())

	started, err = f.engine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	require.Eventually(t, func() bool { return f.provider.messageCalls.Load() >= 4 }, waitFor, testInterval)
}

func TestResumeDelivers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{messages: messageAfter(0, "code 1357")}, Config{})
	require.NoError(t, f.monitors.Set(ctx, "user-1", testHandle))

	_, err := f.engine.Resume(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeDelivered)) == 1
	}, waitFor, testInterval)
	assert.Equal(t, "1357", f.notices.byKind(NoticeDelivered)[0].Code)
}

func TestShutdownKeepsRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeProvider{}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	f.engine.Shutdown()
	assert.Equal(t, 0, f.engine.Active())

	_, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingMonitors struct {
	*monitoring.Registry
	err error
}

func (f failingMonitors) Get(context.Context, string) (monitoring.Resource, bool, error) {
	return monitoring.Resource{}, false, f.err
}

func TestAcquireStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	storeErr := errors.New("connection refused")
	p := &fakeProvider{}
	e := New(p, failingMonitors{Registry: monitoring.NewRegistry(store), err: storeErr}, usage.NewLedger(store), &recorder{}, Config{})
	t.Cleanup(e.Shutdown)

	_, err := e.Acquire(ctx, "user-1", "outlook")
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, int32(0), p.acquireCalls.Load())
}

// contextStore fails every call made on a done context, like a networked
// backend would.
type contextStore struct {
	kv.Store
}

func (s contextStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Store.Get(ctx, key)
}

func (s contextStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.SetNX(ctx, key, value)
}

func (s contextStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.IncrBy(ctx, key, delta)
}

func TestAcquireRecordsPurchaseAfterCallerGoesAway(t *testing.T) {
	store := contextStore{Store: kv.NewMemory()}
	monitors := monitoring.NewRegistry(store)
	ledger := usage.NewLedger(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProvider{
		acquire: func(context.Context, string) ([]string, error) {
			cancel()
			return []string{testHandle}, nil
		},
	}
	e := New(p, monitors, ledger, &recorder{}, Config{PollInterval: time.Hour})
	t.Cleanup(e.Shutdown)

	acq, err := e.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
	assert.Equal(t, testHandle, acq.Handle)
	assert.Equal(t, int32(1), p.acquireCalls.Load())

	res, ok, err := monitors.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testHandle, res.Handle)

	count, err := ledger.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, e.Active())
}

type failingUsage struct{}

func (failingUsage) Increment(context.Context, string, int64) error {
	return errors.New("connection reset")
}

func TestAcquireKeepsAccountWhenUsageFails(t *testing.T) {
	ctx := context.Background()
	monitors := monitoring.NewRegistry(kv.NewMemory())
	e := New(&fakeProvider{}, monitors, failingUsage{}, &recorder{}, Config{PollInterval: time.Hour})
	t.Cleanup(e.Shutdown)

	_, err := e.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	_, ok, err := monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, e.Active())
}

// Acquire -> rejected second acquire -> delivery on a later tick -> cleanup.
func TestAcquireDeliverLifecycle(t *testing.T) {
	ctx := context.Background()
	var ready atomic.Bool
	f := newFixture(t, &fakeProvider{
		messages: func(context.Context, int) (string, error) {
			if !ready.Load() {
				return "", &provider.Error{Op: "message", Kind: provider.KindTransport, Err: errors.New("timeout")}
			}
			return "Use 246810 to verify your account", nil
		},
	}, Config{})

	_, err := f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)

	_, err = f.engine.Acquire(ctx, "user-1", "outlook")
	assert.ErrorIs(t, err, ErrAlreadyMonitoring)

	res, ok, err := f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testHandle, res.Handle)

	ready.Store(true)
	require.Eventually(t, func() bool {
		return len(f.notices.byKind(NoticeDelivered)) == 1
	}, waitFor, testInterval)
	assert.Equal(t, "246810", f.notices.byKind(NoticeDelivered)[0].Code)

	_, ok, err = f.monitors.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := f.usage.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Back to idle: a new acquisition is accepted.
	_, err = f.engine.Acquire(ctx, "user-1", "outlook")
	require.NoError(t, err)
}
