package changefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackOffNeverExceedsMax(t *testing.T) {
	b := newReconnectBackOff(500*time.Millisecond, 30*time.Second)
	atMax := 0
	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 30*time.Second, "attempt %d", i)
		if d == 30*time.Second {
			atMax++
		}
	}
	assert.Positive(t, atMax, "jitter above the ceiling is clamped")

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 750*time.Millisecond)
}
