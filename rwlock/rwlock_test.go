package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriterExcludesWriter(t *testing.T) {
	l := MkRWLock()
	l.Acquire()
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestReadersShare(t *testing.T) {
	l := MkRWLock()
	l.RAcquire()
	l.RAcquire()
	assert.False(t, l.TryAcquire())
	l.RRelease()
	l.RRelease()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestWriterBlocksReader(t *testing.T) {
	l := MkRWLock()
	l.Acquire()
	var got int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		l.RAcquire()
		atomic.StoreInt32(&got, 1)
		l.RRelease()
		wg.Done()
	}()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&got))
	l.Release()
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&got))
}

func TestDemote(t *testing.T) {
	l := MkRWLock()
	l.Acquire()
	l.Demote()
	// other readers may now enter; writers may not
	l.RAcquire()
	l.RRelease()
	assert.False(t, l.TryAcquire())
	l.RRelease()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestPromote(t *testing.T) {
	l := MkRWLock()
	l.RAcquire()
	l.RAcquire()
	done := make(chan struct{})
	go func() {
		// second reader leaves after a moment
		time.Sleep(10 * time.Millisecond)
		l.RRelease()
		close(done)
	}()
	l.Promote()
	<-done
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestCounterUnderContention(t *testing.T) {
	l := MkRWLock()
	var counter uint64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			for j := 0; j < 1000; j++ {
				l.Acquire()
				counter++
				l.Release()
			}
			wg.Done()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), counter)
}
