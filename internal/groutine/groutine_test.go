package groutine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_PropagatesName(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var got string
	var gid uint64
	GoDone(context.Background(), "worker-42", func(ctx context.Context) {
		got = GetName(ctx)
		gid = GetGID()
	}, wg.Done)
	wg.Wait()

	assert.Equal(t, "worker-42", got)
	assert.NotZero(t, gid)
	assert.NotEqual(t, GetGID(), gid, "spawned goroutine MUST have its own id")
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", GetName(nil))
}
