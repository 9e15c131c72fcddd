package control

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-grabber-go/internal/models"
)

func command(verb string) models.Command {
	return models.Command{Verb: verb}
}

func TestQueuePushSignalsAndPreservesOrder(t *testing.T) {
	q := NewQueue(4, time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, command(strconv.Itoa(i))))
	}

	select {
	case <-q.Signal():
	default:
		t.Fatal("push did not signal the consumer")
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		cmd, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(i), cmd.Verb)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.EqualValues(t, 3, q.Pushed())
}

func TestQueuePushRetriesWhileFull(t *testing.T) {
	q := NewQueue(1, 2*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, command("first")))

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, command("second")) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("push on a full queue returned early: %v", err)
	default:
	}
	assert.Positive(t, q.Retries())

	cmd, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "first", cmd.Verb)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not complete after space was freed")
	}
	cmd, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "second", cmd.Verb)
}

func TestQueuePushGivesUpOnShutdown(t *testing.T) {
	q := NewQueue(1, time.Millisecond)
	require.NoError(t, q.Push(context.Background(), command("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, command("second")), context.DeadlineExceeded)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Push(context.Background(), command("third")), ErrQueueClosed)

	cmd, ok := q.TryPop()
	require.True(t, ok, "queued commands survive close")
	assert.Equal(t, "first", cmd.Verb)
}
