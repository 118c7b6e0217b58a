package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/amrrdev/keygen/internal/worker"
	"github.com/stretchr/testify/assert"
)

func TestStopReason(t *testing.T) {
	assert.NoError(t, stopReason(nil))
	assert.NoError(t, stopReason(context.Canceled))
	assert.NoError(t, stopReason(fmt.Errorf("shutdown: %w", context.Canceled)))
	assert.ErrorIs(t, stopReason(worker.ErrDeliveriesClosed), worker.ErrDeliveriesClosed)
}
