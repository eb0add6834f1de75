package safe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Call(ctx, func() error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, Call(ctx, func() error { return boom }), boom)

	err := Call(ctx, func() error { panic("bad chunk") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad chunk", pe.Value)
	assert.Contains(t, pe.Stack, "runner_test.go")
}

func TestGo(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go(context.Background(), func() {
		defer wg.Done()
		panic("recovered")
	})
	wg.Wait()
}
