package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/model"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Query(context.Context, string, ...interface{}) (*ResultSet, error) {
	return &ResultSet{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeOpener struct {
	opened  atomic.Int64
	open    atomic.Int64
	maxLive atomic.Int64
	fail    atomic.Bool
}

func (f *fakeOpener) Open(context.Context) (Conn, error) {
	if f.fail.Load() {
		return nil, errors.New("dial refused")
	}
	f.opened.Add(1)
	n := f.open.Add(1)
	for {
		cur := f.maxLive.Load()
		if n <= cur || f.maxLive.CompareAndSwap(cur, n) {
			break
		}
	}
	return &trackedConn{owner: f}, nil
}

type trackedConn struct {
	fakeConn
	owner *fakeOpener
}

func (c *trackedConn) Close() error {
	if !c.closed.Swap(true) {
		c.owner.open.Add(-1)
	}
	return nil
}

func newTestPool(t *testing.T, min, max int, timeout time.Duration) (*Pool, *fakeOpener) {
	t.Helper()
	op := &fakeOpener{}
	p, err := NewPool(context.Background(), model.PoolConfig{
		MinConnections: min,
		MaxConnections: max,
		Timeout:        timeout,
	}, op.Open, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.CloseAll() })
	return p, op
}

func TestPool_PrewarmsMinConnections(t *testing.T) {
	p, op := newTestPool(t, 2, 5, time.Second)

	stats := p.Stats()
	assert.Equal(t, 2, stats.IdleConnections)
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, int64(2), op.opened.Load())
}

func TestPool_ReusesReleasedHandles(t *testing.T) {
	p, op := newTestPool(t, 0, 3, time.Second)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCheckedOut, pc.State())
	p.Release(pc)
	assert.Equal(t, StateFree, pc.State())

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, pc.ID, again.ID)
	assert.Equal(t, 2, again.Uses)
	p.Release(again)

	stats := p.Stats()
	assert.Equal(t, int64(1), op.opened.Load())
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestPool_ExhaustedAfterTimeout(t *testing.T) {
	p, _ := newTestPool(t, 2, 30, 50*time.Millisecond)
	ctx := context.Background()

	held := make([]*PooledConnection, 0, 30)
	for i := 0; i < 30; i++ {
		pc, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, pc)
	}

	start := time.Now()
	_, err := p.Acquire(ctx)
	var exhausted *model.ResourceExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, model.KindResourceExhausted, model.KindOf(err))
	assert.Equal(t, int64(1), p.Stats().Timeouts)

	p.Release(held[0])
	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, held[0].ID, pc.ID)

	p.Release(pc)
	for _, h := range held[1:] {
		p.Release(h)
	}
	assert.Equal(t, 30, p.Stats().IdleConnections)
}

func TestPool_WaiterWakesOnRelease(t *testing.T) {
	p, _ := newTestPool(t, 0, 1, time.Second)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *PooledConnection, 1)
	go func() {
		pc, err := p.Acquire(ctx)
		if err == nil {
			got <- pc
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(first)

	select {
	case pc := <-got:
		require.NotNil(t, pc)
		assert.Equal(t, first.ID, pc.ID)
		p.Release(pc)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p, _ := newTestPool(t, 0, 1, time.Minute)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_DoubleReleaseIsNoop(t *testing.T) {
	p, _ := newTestPool(t, 0, 2, time.Second)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)
	p.Release(pc)
	p.Release(nil)

	stats := p.Stats()
	assert.Equal(t, 1, stats.IdleConnections)
	assert.Equal(t, 0, stats.ActiveConnections)
}

func TestPool_DiscardClosesHandle(t *testing.T) {
	p, op := newTestPool(t, 0, 2, time.Second)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(pc)

	assert.Equal(t, StateClosed, pc.State())
	assert.Equal(t, int64(0), op.open.Load())
	assert.Equal(t, 0, p.Stats().TotalConnections)
}

func TestPool_OpenFailureFreesSlot(t *testing.T) {
	p, op := newTestPool(t, 0, 1, 50*time.Millisecond)
	op.fail.Store(true)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	op.fail.Store(false)
	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)
}

func TestPool_CloseAll(t *testing.T) {
	p, op := newTestPool(t, 2, 4, time.Second)
	ctx := context.Background()

	out, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, p.CloseAll())
	require.NoError(t, p.CloseAll())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, model.ErrPoolClosed)

	// checked-out handle is closed on its way back
	p.Release(out)
	assert.Equal(t, StateClosed, out.State())
	assert.Equal(t, int64(0), op.open.Load())
}

func TestPool_StateReadableWhileCycling(t *testing.T) {
	p, _ := newTestPool(t, 1, 1, time.Second)

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := pc.State()
			assert.Contains(t, []ConnState{StateFree, StateCheckedOut}, s)
		}
	}()

	for i := 0; i < 200; i++ {
		got, err := p.Acquire(context.Background())
		require.NoError(t, err)
		p.Release(got)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, StateFree, pc.State())
}

func TestPool_NeverExceedsMax(t *testing.T) {
	const maxConns = 4
	p, op := newTestPool(t, 0, maxConns, 2*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With(context.Background(), func(pc *PooledConnection) error {
				_, err := pc.Query(context.Background(), "SELECT 1")
				time.Sleep(time.Millisecond)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, op.maxLive.Load(), int64(maxConns))
	stats := p.Stats()
	assert.Equal(t, 0, stats.ActiveConnections)
	assert.LessOrEqual(t, stats.TotalConnections, maxConns)
	assert.Equal(t, int64(50), stats.TotalRequests)
}

func TestNewPool_RejectsBadBounds(t *testing.T) {
	op := &fakeOpener{}
	_, err := NewPool(context.Background(), model.PoolConfig{MinConnections: 3, MaxConnections: 2}, op.Open, nil)
	assert.Error(t, err)
	_, err = NewPool(context.Background(), model.PoolConfig{MaxConnections: 0}, op.Open, nil)
	assert.Error(t, err)
}
