package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryDelay(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"", ShortQueryDelay},
		{"a", ShortQueryDelay},
		{"ab", ShortQueryDelay},
		{" ab ", ShortQueryDelay},
		{"éé", ShortQueryDelay},
		{"abc", LongQueryDelay},
		{"cyber punk", LongQueryDelay},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, QueryDelay(tt.query))
		})
	}
}

func TestDebouncer_LastWriteWins(t *testing.T) {
	sched := NewManualScheduler()
	d := New(sched)

	var got []string
	d.Trigger(100*time.Millisecond, func() { got = append(got, "first") })
	sched.Advance(50 * time.Millisecond)
	d.Trigger(100*time.Millisecond, func() { got = append(got, "second") })
	sched.Advance(60 * time.Millisecond)
	assert.Empty(t, got, "the first callback must have been cancelled")

	sched.Advance(40 * time.Millisecond)
	assert.Equal(t, []string{"second"}, got)
	assert.False(t, d.Pending())
	assert.Zero(t, sched.Pending())
}

func TestDebouncer_BurstFiresOnce(t *testing.T) {
	sched := NewManualScheduler()
	d := New(sched)

	var calls int32
	for i := 0; i < 20; i++ {
		d.Trigger(TraitDelay, func() { atomic.AddInt32(&calls, 1) })
		sched.Advance(10 * time.Millisecond)
	}
	sched.Advance(time.Second)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDebouncer_CancelAndFlush(t *testing.T) {
	sched := NewManualScheduler()
	d := New(sched)

	var calls int32
	inc := func() { atomic.AddInt32(&calls, 1) }

	d.Trigger(time.Second, inc)
	assert.True(t, d.Pending())
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())
	sched.Advance(2 * time.Second)
	assert.Zero(t, atomic.LoadInt32(&calls))

	d.Trigger(time.Second, inc)
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	sched.Advance(2 * time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "flushed callback must not fire again")
	assert.False(t, d.Flush())
}

func TestDebouncer_RealScheduler(t *testing.T) {
	d := New(nil)

	fired := make(chan string, 2)
	d.Trigger(time.Hour, func() { fired <- "stale" })
	d.Trigger(5*time.Millisecond, func() { fired <- "fresh" })

	select {
	case v := <-fired:
		assert.Equal(t, "fresh", v)
	case <-time.After(time.Second):
		t.Fatal("debounced callback never fired")
	}
	assert.False(t, d.Pending())
}

func TestManualScheduler_NestedAndOrdered(t *testing.T) {
	sched := NewManualScheduler()

	var order []string
	sched.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })
	sched.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		sched.AfterFunc(0, func() { order = append(order, "a-deferred") })
	})
	stopped := sched.AfterFunc(15*time.Millisecond, func() { order = append(order, "never") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	n := sched.Advance(20 * time.Millisecond)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "a-deferred", "b"}, order)
	assert.Equal(t, 20*time.Millisecond, sched.Now())
}
