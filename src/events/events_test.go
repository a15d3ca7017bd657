package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(common.NewTestEntry(t))

	id, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(id)

	bus.PublishTxAccepted("0xaaa")
	bus.PublishTxConfirmed("0xaaa", 5, "0xblock")
	bus.PublishBlockCreated(5, "0xblock")

	e := <-ch
	require.Equal(t, TxAccepted, e.Kind)
	require.Equal(t, "0xaaa", e.TxID)

	e = <-ch
	require.Equal(t, TxConfirmed, e.Kind)
	require.Equal(t, uint64(5), e.BlockHeight)
	require.Equal(t, "0xblock", e.BlockHash)

	e = <-ch
	require.Equal(t, BlockCreated, e.Kind)
}

func TestEventOrderPerTransaction(t *testing.T) {
	bus := NewBus(common.NewTestEntry(t))
	id, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(id)

	// tx_accepted strictly precedes the terminal event.
	bus.PublishTxAccepted("0xbbb")
	bus.PublishTxFailed("0xbbb", "expired")

	first := <-ch
	second := <-ch
	require.Equal(t, TxAccepted, first.Kind)
	require.Equal(t, TxFailed, second.Kind)
	require.Equal(t, "expired", second.Reason)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(common.NewTestEntry(t))

	// Buffer of one; the second publish must drop, not block.
	id, ch := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		bus.PublishTxAccepted("0x1")
		bus.PublishTxAccepted("0x2")
		close(done)
	}()

	<-done
	e := <-ch
	require.Equal(t, "0x1", e.TxID)

	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(common.NewTestEntry(t))

	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe is a no-op.
	bus.PublishTxAccepted("0x3")
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus(common.NewTestEntry(t))

	id1, ch1 := bus.Subscribe(4)
	id2, ch2 := bus.Subscribe(4)
	defer bus.Unsubscribe(id1)
	defer bus.Unsubscribe(id2)

	bus.PublishBlockCreated(1, "0xb")

	require.Equal(t, BlockCreated, (<-ch1).Kind)
	require.Equal(t, BlockCreated, (<-ch2).Kind)
}
