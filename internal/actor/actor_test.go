package actor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorRefStartStop(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("test-1")
	ref := NewActorRef("test-1", a, 10)

	require.NoError(t, ref.Start(ctx))
	assert.True(t, a.startCalled.Load())

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, ref.Stop(stopCtx))
	assert.True(t, a.stopCalled.Load())

	select {
	case <-ref.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	// second stop is a no-op
	require.NoError(t, ref.Stop(stopCtx))
}

func TestActorPreservesOrder(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("ordered")
	ref := NewActorRef("ordered", a, 100)
	require.NoError(t, ref.Start(ctx))
	defer ref.Stop(ctx)

	for i := 0; i < 50; i++ {
		require.NoError(t, ref.Send(&TestMessage{ID: fmt.Sprint(i)}))
	}

	require.Eventually(t, func() bool { return len(a.Received()) == 50 }, time.Second, 5*time.Millisecond)
	for i, msg := range a.Received() {
		assert.Equal(t, fmt.Sprint(i), msg.(*TestMessage).ID)
	}
}

func TestActorContinuesAfterError(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("errors")
	ref := NewActorRef("errors", a, 10)
	require.NoError(t, ref.Start(ctx))
	defer ref.Stop(ctx)

	require.NoError(t, ref.Send(&ErrorMessage{}))
	require.NoError(t, ref.Send(&TestMessage{ID: "after"}))

	require.Eventually(t, func() bool { return len(a.Received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSendToFullMailbox(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("full")
	a.blockReceive = make(chan struct{})
	ref := NewActorRef("full", a, 1)
	require.NoError(t, ref.Start(ctx))
	defer func() {
		close(a.blockReceive)
		ref.Stop(ctx)
	}()

	// The first message is taken by the run loop and blocks there; the
	// second fills the mailbox.
	require.NoError(t, ref.Send(&TestMessage{ID: "1"}))
	require.Eventually(t, func() bool { return ref.MailboxDepth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ref.Send(&TestMessage{ID: "2"}))
	assert.Equal(t, 1, ref.MailboxDepth())

	assert.Error(t, ref.Send(&TestMessage{ID: "3"}))

	sendCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := ref.SendContext(sendCtx, &TestMessage{ID: "3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendContextWaitsForSpace(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("wait")
	a.blockReceive = make(chan struct{})
	ref := NewActorRef("wait", a, 1)
	require.NoError(t, ref.Start(ctx))
	defer ref.Stop(ctx)

	require.NoError(t, ref.Send(&TestMessage{ID: "1"}))
	require.Eventually(t, func() bool { return ref.MailboxDepth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ref.Send(&TestMessage{ID: "2"}))

	sent := make(chan error, 1)
	go func() { sent <- ref.SendContext(ctx, &TestMessage{ID: "3"}) }()

	close(a.blockReceive)
	require.NoError(t, <-sent)
	require.Eventually(t, func() bool { return len(a.Received()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestSendAfterStop(t *testing.T) {
	ctx := context.Background()
	ref := NewActorRef("stopped", NewTestActor("stopped"), 1)
	require.NoError(t, ref.Start(ctx))
	require.NoError(t, ref.Stop(ctx))

	assert.True(t, errors.Is(ref.Send(&TestMessage{}), ErrStopped))
	assert.True(t, errors.Is(ref.SendContext(ctx, &TestMessage{}), ErrStopped))
}

func TestSequentialProcessing(t *testing.T) {
	ctx := context.Background()
	a := NewTestActor("seq")
	ref := NewActorRef("seq", a, 0, WithSequentialProcessing())
	require.NoError(t, ref.Start(ctx))
	defer ref.Stop(ctx)

	require.NoError(t, ref.Send(&TestMessage{ID: "1"}))
	require.NoError(t, ref.SendContext(ctx, &TestMessage{ID: "2"}))

	// applied before Send returned
	assert.Len(t, a.Received(), 2)
}
