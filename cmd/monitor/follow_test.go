package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingStream(started chan<- struct{}) func(context.Context) error {
	return func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestFollow(t *testing.T) {
	t.Run("completion closes and cancels the stream", func(t *testing.T) {
		done := make(chan struct{})
		started := make(chan struct{})
		var closed atomic.Int32

		go func() {
			<-started
			close(done)
		}()
		err := follow(context.Background(), done, blockingStream(started), func() { closed.Add(1) })

		require.NoError(t, err)
		assert.Equal(t, int32(1), closed.Load())
	})

	t.Run("interrupt is not an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		var closed atomic.Int32

		go func() {
			<-started
			cancel()
		}()
		err := follow(ctx, make(chan struct{}), blockingStream(started), func() { closed.Add(1) })

		require.NoError(t, err)
		assert.Equal(t, int32(1), closed.Load())
	})

	t.Run("stream failure is returned", func(t *testing.T) {
		boom := errors.New("retries exhausted")
		var closed atomic.Int32

		err := follow(context.Background(), make(chan struct{}), func(context.Context) error {
			return boom
		}, func() { closed.Add(1) })

		require.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), closed.Load())
	})

	t.Run("clean stream end does not hang", func(t *testing.T) {
		result := make(chan error, 1)
		go func() {
			result <- follow(context.Background(), make(chan struct{}), func(context.Context) error {
				return nil
			}, func() {})
		}()

		select {
		case err := <-result:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("follow did not return after the stream ended")
		}
	})
}
