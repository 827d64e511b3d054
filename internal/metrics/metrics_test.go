package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulate(t *testing.T) {
	var c Counters
	c.MessageIn(10)
	c.MessageIn(5)
	c.MessageOut(3)
	c.BusPublishOK()
	c.BusPublishFail()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.MessagesIn)
	assert.Equal(t, int64(15), snap.BytesIn)
	assert.Equal(t, int64(1), snap.MessagesOut)
	assert.Equal(t, int64(3), snap.BytesOut)
	assert.Equal(t, int64(1), snap.BusPublishOK)
	assert.Equal(t, int64(1), snap.BusPublishFail)
}
