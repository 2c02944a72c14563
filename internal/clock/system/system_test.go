package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockNowMillisecondPrecision(t *testing.T) {
	t.Parallel()

	got := New().Now()
	assert.Zero(t, got.Nanosecond()%int(time.Millisecond))

	first := New().Now()
	second := New().Now()
	assert.False(t, second.Before(first))
}
