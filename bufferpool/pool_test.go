package bufferpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-lobby/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := New(size)
	require.NoError(t, err)
	return p
}

func assertConserved(t *testing.T, p *Pool) {
	t.Helper()
	s := p.Stats()
	assert.Equal(t, p.Size(), s.Free+s.Ready+s.Work+s.Assigned)
}

func TestNew(t *testing.T) {
	t.Run("all slots start free", func(t *testing.T) {
		p := newTestPool(t, 8)
		s := p.Stats()
		assert.Equal(t, Stats{Size: 8, Free: 8}, s)
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := New(0)
		assert.Error(t, err)
		_, err = New(-3)
		assert.Error(t, err)
	})
}

func TestPool_AcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, a.Index(), b.Index())
	assert.Equal(t, ListNone, a.List())

	t.Run("exhausted pool signals", func(t *testing.T) {
		_, err := p.Acquire()
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.Equal(t, 2, p.Stats().Assigned)
	})

	t.Run("release resets every field", func(t *testing.T) {
		a.Conn = 42
		a.Serial = 7
		a.Local = true
		require.NoError(t, a.SetPayload([]byte("hello")))
		a.Seal(frame.KindGameUpdate)

		p.Release(a)
		assert.Equal(t, ListFree, a.List())

		again, err := p.Acquire()
		require.NoError(t, err)
		assert.Same(t, a, again)
		assert.Equal(t, -1, again.Conn)
		assert.Zero(t, again.Serial)
		assert.False(t, again.Local)
		assert.Empty(t, again.Payload())
		assert.Equal(t, frame.Header{}, again.Header)
	})
}

func TestQueue_FIFO(t *testing.T) {
	p := newTestPool(t, 5)
	var pushed []*Message
	for i := 0; i < 5; i++ {
		m, err := p.Acquire()
		require.NoError(t, err)
		m.Conn = i
		p.Ready().Push(m)
		pushed = append(pushed, m)
	}

	assert.Equal(t, 5, p.Ready().Len())
	for _, want := range pushed {
		got := p.Ready().Pop()
		require.NotNil(t, got)
		assert.Same(t, want, got)
	}
	assert.Nil(t, p.Ready().Pop())
}

func TestQueue_Remove(t *testing.T) {
	setup := func(t *testing.T) (*Pool, []*Message) {
		p := newTestPool(t, 3)
		var ms []*Message
		for i := 0; i < 3; i++ {
			m, err := p.Acquire()
			require.NoError(t, err)
			p.Work().Push(m)
			ms = append(ms, m)
		}
		return p, ms
	}

	for _, victim := range []int{0, 1, 2} {
		t.Run([]string{"head", "middle", "tail"}[victim], func(t *testing.T) {
			p, ms := setup(t)
			require.True(t, p.Work().Remove(ms[victim]))
			assert.Equal(t, ListNone, ms[victim].List())
			assert.Equal(t, 2, p.Work().Len())

			var rest []*Message
			for i, m := range ms {
				if i != victim {
					rest = append(rest, m)
				}
			}
			assert.Equal(t, rest, p.Work().Drain())
			assertConserved(t, p)
		})
	}

	t.Run("remove of foreign slot is refused", func(t *testing.T) {
		p, ms := setup(t)
		m := p.Work().Pop()
		p.Ready().Push(m)
		assert.False(t, p.Work().Remove(ms[0]))
		assert.Equal(t, 2, p.Work().Len())
	})
}

func TestQueue_PushLinkedSlotPanics(t *testing.T) {
	p := newTestPool(t, 1)
	m, err := p.Acquire()
	require.NoError(t, err)
	p.Ready().Push(m)

	assert.Panics(t, func() { p.Work().Push(m) })
}

func TestQueue_TakeWakesOnPush(t *testing.T) {
	p := newTestPool(t, 1)
	got := make(chan *Message, 1)

	go func() {
		m, err := p.Work().Take(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(20 * time.Millisecond)
	m, err := p.Acquire()
	require.NoError(t, err)
	p.Work().Push(m)

	select {
	case taken := <-got:
		assert.Same(t, m, taken)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestQueue_TakeHonoursContext(t *testing.T) {
	p := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	m, err := p.Ready().Take(ctx)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_ConservationUnderConcurrency(t *testing.T) {
	const size = 64
	const rounds = 2000
	p := newTestPool(t, size)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)

	// producer: free -> ready
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; {
			m, err := p.Acquire()
			if err != nil {
				time.Sleep(time.Microsecond)
				continue
			}
			m.Conn = i
			p.Ready().Push(m)
			i++
		}
	}()

	// dispatcher: ready -> work
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			m, err := p.Ready().Take(ctx)
			if err != nil {
				return
			}
			p.Work().Push(m)
		}
	}()

	// egress: work -> free, checking FIFO order end to end
	var order []int
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			m, err := p.Work().Take(ctx)
			if err != nil {
				return
			}
			order = append(order, m.Conn)
			p.Release(m)
		}
	}()

	wg.Wait()

	s := p.Stats()
	assert.Equal(t, Stats{Size: size, Free: size}, s)
	require.Len(t, order, rounds)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPool_Reclaim(t *testing.T) {
	p := newTestPool(t, 6)
	for i := 0; i < 2; i++ {
		m, _ := p.Acquire()
		p.Ready().Push(m)
		m, _ = p.Acquire()
		p.Work().Push(m)
	}
	_, _ = p.Acquire()

	s := p.Stats()
	assert.Equal(t, Stats{Size: 6, Free: 1, Ready: 2, Work: 2, Assigned: 1}, s)

	p.Reclaim()
	assert.Equal(t, Stats{Size: 6, Free: 6}, p.Stats())
}

func TestMessage_Payload(t *testing.T) {
	p := newTestPool(t, 1)
	m, _ := p.Acquire()

	t.Run("seal writes header in front of payload", func(t *testing.T) {
		require.NoError(t, m.SetPayload([]byte("abc")))
		m.Seal(frame.KindPeerLeft)

		h, err := frame.DecodeHeader(m.Frame())
		require.NoError(t, err)
		assert.Equal(t, frame.KindPeerLeft, h.Kind)
		assert.Equal(t, uint16(frame.HeaderSize+3), h.Length)
		assert.Equal(t, "abc", string(m.Frame()[frame.HeaderSize:]))
	})

	t.Run("oversized payload is rejected", func(t *testing.T) {
		err := m.SetPayload(make([]byte, frame.MaxPayloadSize+1))
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
	})

	t.Run("payload buffer fills in place", func(t *testing.T) {
		copy(m.PayloadBuffer(4), "wxyz")
		assert.Equal(t, "wxyz", string(m.Payload()))
	})
}
