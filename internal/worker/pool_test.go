package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponhub/internal/logger"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(2, 8, logger.Discard())
	defer p.Shutdown(context.Background())

	var ran atomic.Int32
	tasks := make([]*Task, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		task, err := p.Submit(id, func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		require.NoError(t, task.Wait(context.Background()))
	}
	assert.Equal(t, int32(5), ran.Load())
}

func TestPool_CapturesErrorsAndPanics(t *testing.T) {
	p := NewPool(1, 4, logger.Discard())
	defer p.Shutdown(context.Background())

	boom := errors.New("boom")
	failed, err := p.Submit("fail", func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	panicked, err := p.Submit("panic", func(ctx context.Context) error { panic("bad") })
	require.NoError(t, err)

	assert.ErrorIs(t, failed.Wait(context.Background()), boom)

	err = panicked.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, err, panicked.Err())
}

func TestPool_QueueFullAndDuplicate(t *testing.T) {
	p := NewPool(1, 1, logger.Discard())
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit("running", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	_, err = p.Submit("queued", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	_, err = p.Submit("queued", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicateTask)

	_, err = p.Submit("overflow", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestPool_Cancel(t *testing.T) {
	p := NewPool(1, 1, logger.Discard())
	defer p.Shutdown(context.Background())

	started := make(chan struct{})
	task, err := p.Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	assert.True(t, p.Cancel("long"))
	assert.ErrorIs(t, task.Wait(context.Background()), context.Canceled)
	assert.False(t, p.Cancel("long"))
}

func TestPool_ShutdownCancelsOnDeadline(t *testing.T) {
	p := NewPool(1, 1, logger.Discard())

	started := make(chan struct{})
	task, err := p.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, task.Err(), context.Canceled)

	_, err = p.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
