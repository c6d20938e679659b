package display

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseIsExclusive(t *testing.T) {
	l := NewLease()

	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())

	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	l := NewLease()
	require.True(t, l.TryAcquire())

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire succeeded while lease was held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not proceed after release")
	}
	l.Release()
}

func TestAcquireRespectsContext(t *testing.T) {
	l := NewLease()
	require.True(t, l.TryAcquire())
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseUnheldPanics(t *testing.T) {
	l := NewLease()
	assert.Panics(t, func() { l.Release() })
}
