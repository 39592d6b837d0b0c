package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   error
	closed bool
}

func (m *memSink) Deliver(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) delivered() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func soldEvent() Event {
	ev := NewEvent(AuctionSold, 1, t0).WithAuction(uuid.New(), 100)
	ev.UserID = 7
	ev.Amount = 120
	ev.Status = "sold"
	return ev
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(sink, 1)

	d.Publish(soldEvent())
	d.Publish(soldEvent())
	dropped, _ := d.Stats()
	check.Equal(t, int64(1), dropped)

	d.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, d.Stop(ctx))
	check.Equal(t, 1, len(sink.delivered()))
	check.True(t, sink.closed)
}

func TestDispatcher_CountsFailures(t *testing.T) {
	sink := &memSink{fail: errors.New("broker down")}
	d := NewDispatcher(sink, 4)
	d.Publish(soldEvent())
	d.Publish(soldEvent())
	d.Start(context.Background())
	assert.NoError(t, d.Stop(context.Background()))

	_, failed := d.Stats()
	check.Equal(t, int64(2), failed)
}

func TestMulti_ContinuesPastFailingSink(t *testing.T) {
	bad := &memSink{fail: errors.New("boom")}
	good := &memSink{}
	err := Multi{bad, good}.Deliver(context.Background(), soldEvent())
	check.Error(t, err)
	check.Equal(t, 1, len(good.delivered()))

	assert.NoError(t, Multi{bad, good}.Close())
	check.True(t, bad.closed)
	check.True(t, good.closed)
}

func TestKeepOpen(t *testing.T) {
	sink := &memSink{}
	assert.NoError(t, KeepOpen(sink).Close())
	check.False(t, sink.closed)
}

func TestSpool_RoundTripAndRetry(t *testing.T) {
	sp, err := OpenSpool(t.TempDir())
	assert.NoError(t, err)
	defer sp.Close()

	first := soldEvent()
	second := NewEvent(AuctionExpired, 2, t0.Add(time.Nanosecond))
	assert.NoError(t, sp.Deliver(context.Background(), first))
	assert.NoError(t, sp.Deliver(context.Background(), second))

	pending, err := sp.Pending(0)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(pending))
	check.Equal(t, first, pending[0].Event)
	check.Equal(t, second, pending[1].Event)
	check.Equal(t, uint32(0), pending[0].Attempts)

	assert.NoError(t, sp.Retry(pending[0]))
	assert.NoError(t, sp.Ack(pending[1].Key))

	pending, err = sp.Pending(10)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(pending))
	check.Equal(t, uint32(1), pending[0].Attempts)
	check.Equal(t, first.ID, pending[0].Event.ID)
}

func TestBroadcaster_FlushAcksAndRetries(t *testing.T) {
	sp, err := OpenSpool(t.TempDir())
	assert.NoError(t, err)
	defer sp.Close()
	for i := 0; i < 3; i++ {
		assert.NoError(t, sp.Deliver(context.Background(), soldEvent()))
	}

	sink := &memSink{fail: errors.New("timeout")}
	b := NewBroadcaster(sp, sink, time.Hour)
	b.maxAttempts = 2

	delivered, failed := b.Flush(context.Background())
	check.Equal(t, 0, delivered)
	check.Equal(t, 3, failed)
	pending, _ := sp.Pending(0)
	check.Equal(t, 3, len(pending))

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()
	delivered, _ = b.Flush(context.Background())
	check.Equal(t, 3, delivered)
	pending, _ = sp.Pending(0)
	check.Equal(t, 0, len(pending))

	// Исчерпавшие попытки записи отбрасываются.
	assert.NoError(t, sp.Deliver(context.Background(), soldEvent()))
	sink.mu.Lock()
	sink.fail = errors.New("gone")
	sink.mu.Unlock()
	b.Flush(context.Background())
	b.Flush(context.Background())
	pending, _ = sp.Pending(0)
	check.Equal(t, 0, len(pending))
}

func TestChatText(t *testing.T) {
	text, ok := ChatText(soldEvent())
	check.True(t, ok)
	check.Equal(t, "🔨 Player #100 sold to user 7 for 120 credits", text)

	pen := NewEvent(PenaltyApplied, 1, t0)
	pen.UserID = 3
	pen.Amount = 1
	text, ok = ChatText(pen)
	check.True(t, ok)
	check.Equal(t, "⚠️ User 3 fined 1 credit for an incomplete roster", text)

	_, ok = ChatText(NewEvent(AuctionUpdated, 1, t0))
	check.False(t, ok)
}

func TestKafkaMessage(t *testing.T) {
	ev := soldEvent()
	msg, err := kafkaMessage(ev)
	assert.NoError(t, err)
	check.Equal(t, "1", string(msg.Key))
	check.Equal(t, AuctionSold, string(msg.Headers[0].Value))
	check.True(t, len(msg.Value) > 0)
}
