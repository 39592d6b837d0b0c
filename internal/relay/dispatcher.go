package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultDeliverTimeout ограничивает одну попытку доставки.
const DefaultDeliverTimeout = 5 * time.Second

// Dispatcher — неблокирующий Publisher с ограниченной очередью перед Sink.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration

	dropped atomic.Int64
	failed  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер с очередью размера buffer.
//
// Параметры:
//   - sink: куда доставлять события
//   - buffer: размер очереди; 0 или меньше означает 1024
//
// Доставка начинается после Start.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, buffer),
		timeout: DefaultDeliverTimeout,
	}
}

// Start запускает горутину доставки.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop()
	log.WithField("buffer", cap(d.queue)).Info("event relay started")
}

// Publish ставит ev в очередь; при полной очереди событие отбрасывается.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		log.WithFields(log.Fields{
			"event":  ev.Type,
			"league": ev.LeagueID,
		}).Warn("event relay queue full, dropping event")
	}
}

// Stats возвращает число отброшенных и недоставленных событий.
func (d *Dispatcher) Stats() (dropped, failed int64) {
	return d.dropped.Load(), d.failed.Load()
}

// Stop доставляет то, что уже в очереди (в пределах ctx), и закрывает sink.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("event relay stop timed out")
	}
	return d.sink.Close()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case ev := <-d.queue:
			d.deliver(context.Background(), ev)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.failed.Add(1)
		log.WithError(err).WithField("event", ev.Type).Debug("event delivery failed")
	}
}
