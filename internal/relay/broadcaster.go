package relay

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxAttempts — сколько раз повторяется событие из очереди, прежде чем его отбросить.
const DefaultMaxAttempts = 10

// Broadcaster с фиксированным интервалом разносит Spool в Sink.
type Broadcaster struct {
	spool       *Spool
	sink        Sink
	interval    time.Duration
	batch       int
	maxAttempts uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster создаёт рассыльщик; для запуска нужен Start.
func NewBroadcaster(spool *Spool, sink Sink, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		spool:       spool,
		sink:        sink,
		interval:    interval,
		batch:       256,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Start запускает цикл сброса.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Flush(ctx)
			}
		}
	}()
}

// Stop завершает цикл, делает последний сброс и закрывает sink.
func (b *Broadcaster) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.Flush(ctx)
	return b.sink.Close()
}

// Flush доставляет одну пачку ожидающих событий и возвращает, сколько
// доставлено и сколько не удалось.
func (b *Broadcaster) Flush(ctx context.Context) (delivered, failed int) {
	entries, err := b.spool.Pending(b.batch)
	if err != nil {
		log.WithError(err).Error("event spool scan failed")
		return 0, 0
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, failed
		}
		dctx, cancel := context.WithTimeout(ctx, DefaultDeliverTimeout)
		err := b.sink.Deliver(dctx, e.Event)
		cancel()

		switch {
		case err == nil:
			delivered++
			if err := b.spool.Ack(e.Key); err != nil {
				log.WithError(err).Error("event spool ack failed")
			}
		case e.Attempts+1 >= b.maxAttempts:
			failed++
			log.WithError(err).WithFields(log.Fields{
				"event":    e.Event.Type,
				"attempts": e.Attempts + 1,
			}).Warn("dropping event after repeated delivery failures")
			if err := b.spool.Ack(e.Key); err != nil {
				log.WithError(err).Error("event spool ack failed")
			}
		default:
			failed++
			if err := b.spool.Retry(e); err != nil {
				log.WithError(err).Error("event spool retry failed")
			}
		}
	}
	if delivered > 0 || failed > 0 {
		log.WithFields(log.Fields{"delivered": delivered, "failed": failed}).Debug("event spool flushed")
	}
	return delivered, failed
}
