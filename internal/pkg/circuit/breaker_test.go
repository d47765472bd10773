package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("test", 2, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := New("test", 2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}
