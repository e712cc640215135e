package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPLimiter_BurstThenThrottle(t *testing.T) {
	l := NewIPLimiter(10, 10*time.Second)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d inside the window", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))

	// Another IP has its own window.
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestIPLimiter_Defaults(t *testing.T) {
	l := NewIPLimiter(0, 0)
	assert.Equal(t, DefaultRateLimit, l.perInterval)
	assert.Equal(t, DefaultRateWindow, l.interval)
}
