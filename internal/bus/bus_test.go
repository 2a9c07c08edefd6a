package bus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/bus"
)

func TestSendDirectEnqueuesPending(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	msg := b.Send(ctx, bus.TypeAgentAction, 1, 2, "hello", nil, nil)
	require.NotZero(t, msg.ID)

	pending := b.GetPending(2)
	require.Len(t, pending, 1)
	require.Equal(t, "hello", pending[0].Content)

	require.Empty(t, b.GetPending(2), "GetPending drains the queue")
}

func TestSendBroadcastSkipsSender(t *testing.T) {
	b := bus.New(bus.WithActiveAgents(func() []uint64 { return []uint64{1, 2, 3} }))
	ctx := context.Background()

	b.Send(ctx, bus.TypeAgentResponse, 1, bus.BroadcastRecipient, "broadcast", nil, nil)

	require.Len(t, b.GetPending(2), 1)
	require.Len(t, b.GetPending(3), 1)
	require.Empty(t, b.GetPending(1), "sender must not receive its own broadcast")
}

func TestHistoryIsNewestFirst(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	b.Send(ctx, bus.TypeUserInput, 0, 1, "first", nil, nil)
	b.Send(ctx, bus.TypeUserInput, 0, 1, "second", nil, nil)

	history := b.GetHistory(0)
	require.Len(t, history, 2)
	require.Equal(t, "second", history[0].Content)
	require.Equal(t, "first", history[1].Content)
}

func TestReplyLinksToOriginalSender(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	original := b.Send(ctx, bus.TypeTaskDelegate, 1, 2, "do this", nil, nil)
	reply, ok := b.Reply(ctx, original.ID, bus.TypeTaskReport, 2, "done", nil)
	require.True(t, ok)
	require.Equal(t, uint64(1), reply.Recipient)
	require.NotNil(t, reply.ParentID)
	require.Equal(t, original.ID, *reply.ParentID)
}

func TestGetThreadCollectsSharedRoot(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	root := b.Send(ctx, bus.TypeTaskDelegate, 1, 2, "root", nil, nil)
	_, _ = b.Reply(ctx, root.ID, bus.TypeTaskReport, 2, "child1", nil)
	_, _ = b.Reply(ctx, root.ID, bus.TypeTaskReport, 2, "child2", nil)

	thread := b.GetThread(root.ID)
	require.Len(t, thread, 3)
	require.Equal(t, root.ID, thread[0].ID)
}

func TestGetByTypeFiltersHistory(t *testing.T) {
	b := bus.New()
	ctx := context.Background()
	b.Send(ctx, bus.TypeAgentThought, 1, 2, "thinking", nil, nil)
	b.Send(ctx, bus.TypeError, 1, 2, "oops", nil, nil)

	errs := b.GetByType(bus.TypeError)
	require.Len(t, errs, 1)
	require.Equal(t, "oops", errs[0].Content)
}

func TestPublishInvokesAllSubscribers(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	var got []string
	sub1 := b.Subscribe("topic-a", func(_ context.Context, msg bus.Message) {
		got = append(got, "sub1:"+msg.Content)
	})
	defer sub1.Close()
	b.Subscribe("topic-a", func(_ context.Context, msg bus.Message) {
		got = append(got, "sub2:"+msg.Content)
	})

	b.Publish(ctx, "topic-a", bus.Message{Content: "hi"})
	require.Len(t, got, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New()
	ctx := context.Background()

	count := 0
	sub := b.Subscribe("topic-b", func(_ context.Context, _ bus.Message) { count++ })
	b.Publish(ctx, "topic-b", bus.Message{})
	sub.Close()
	b.Publish(ctx, "topic-b", bus.Message{})

	require.Equal(t, 1, count)
}

func TestPriorityQueueOrdersByPriorityThenFIFO(t *testing.T) {
	b := bus.New()

	b.EnqueuePriority(bus.Message{Content: "low-1"}, 1)
	b.EnqueuePriority(bus.Message{Content: "high-1"}, 10)
	b.EnqueuePriority(bus.Message{Content: "high-2"}, 10)
	require.Equal(t, 3, b.QueueDepth())

	first, ok := b.DequeuePriority()
	require.True(t, ok)
	require.Equal(t, "high-1", first.Content, "higher priority dequeues first")

	second, _ := b.DequeuePriority()
	require.Equal(t, "high-2", second.Content, "ties break FIFO by insertion order")

	third, _ := b.DequeuePriority()
	require.Equal(t, "low-1", third.Content)

	_, ok = b.DequeuePriority()
	require.False(t, ok)
}
