package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmptyAssignCache_NoAddrIsNoOp(t *testing.T) {
	c := NewEmptyAssignCache("", time.Second)
	ctx := context.Background()

	assert.False(t, c.RecentlyEmpty(ctx, "todo"))
	c.MarkEmpty(ctx, "todo")
	assert.False(t, c.RecentlyEmpty(ctx, "todo"))
	c.Clear(ctx, "todo")
	assert.NoError(t, c.Close())
}
