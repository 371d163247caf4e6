package groutine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesGoroutine(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name, "goroutine name MUST be visible through the context")
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	assert.Empty(t, GetName(context.Background()))
}

func TestGroup_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var g Group
	for _, name := range []string{"a", "b"} {
		g.Go(ctx, name, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}
	cancel()
	assert.NoError(t, g.Wait(), "cancelled loops MUST NOT be reported as failures")
}

func TestGroup_ReportsFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var g Group
	g.Go(context.Background(), "failing", func(context.Context) error { return boom })
	assert.ErrorIs(t, g.Wait(), boom)
}
