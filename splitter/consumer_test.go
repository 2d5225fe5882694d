package splitter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trade-gate-go/market"
	"trade-gate-go/store"
)

func TestHandleDecodesWireOrder(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(clock.now.Add(-12 * time.Hour))
	src := market.NewStatic()
	src.SetAverageTradeSize(decimal.NewFromInt(100))
	sink := &fakeSink{}
	sp := newTestSplitter(clock, mem, src, sink)

	sp.handle(context.Background(), []byte(`{"symbol":"R_100","quantity":4,"duration_ms":8000,"strategy":"TWAP"}`))
	require.Equal(t, 1, sink.splits)
	require.Zero(t, sink.errors)
}

func TestHandleCountsBadMessages(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	sink := &fakeSink{}
	sp := newTestSplitter(clock, store.NewMemory(clock.now), market.NewStatic(), sink)

	sp.handle(context.Background(), []byte(`not json`))
	sp.handle(context.Background(), []byte(`{"symbol":"R_100","quantity":4,"strategy":"POV"}`)) // 未知策略
	require.Equal(t, 2, sink.errors)
	require.Zero(t, sink.splits)
}

func TestRunConsumesLargeOrders(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(clock.now.Add(-12 * time.Hour))
	src := market.NewStatic()
	src.SetAverageTradeSize(decimal.NewFromInt(100))
	sink := &fakeSink{}
	sp := newTestSplitter(clock, mem, src, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sp.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // 等订阅建立

	childCtx, childCancel := context.WithCancel(context.Background())
	defer childCancel()
	children, err := mem.Subscribe(childCtx, ChildOrdersChannel)
	require.NoError(t, err)

	require.NoError(t, mem.Publish(context.Background(), LargeOrdersChannel,
		[]byte(`{"symbol":"R_100","quantity":2,"duration_ms":4000,"strategy":"TWAP"}`)))

	for i := 0; i < 2; i++ {
		select {
		case <-children:
		case <-time.After(time.Second):
			t.Fatalf("child order %d never published", i)
		}
	}
	cancel()
	<-done
}
