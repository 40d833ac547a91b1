package abortctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

func TestSetIsIdempotentAndKeepsFirstCode(t *testing.T) {
	c := New()
	assert.False(t, c.IsSet())
	c.Set(wdterrors.CHECKSUM_MISMATCH)
	c.Set(wdterrors.CONN_ERROR)
	assert.True(t, c.IsSet())
	assert.Equal(t, wdterrors.CHECKSUM_MISMATCH, c.Code())
}

func TestDoneChannelClosesOnSet(t *testing.T) {
	c := New()
	select {
	case <-c.Done():
		t.Fatal("should not be closed yet")
	default:
	}
	c.Set(wdterrors.ABORT)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel did not close")
	}
}

func TestStartAbortAfterFires(t *testing.T) {
	c := New()
	stop := c.StartAbortAfter(20 * time.Millisecond)
	defer stop()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, c.IsSet())
	assert.Equal(t, wdterrors.ABORTED_BY_APPLICATION, c.Code())
}

func TestStartAbortAfterCancelledBeforeFiring(t *testing.T) {
	c := New()
	stop := c.StartAbortAfter(time.Hour)
	stop()
	assert.False(t, c.IsSet())
}
