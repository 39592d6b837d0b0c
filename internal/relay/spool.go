package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const spoolPrefix = "event/"

// Spool — надёжная очередь исходящих событий на локальном диске. Как Sink она только
// сохраняет событие; позже Broadcaster разносит его по настоящим sink. События
// переживают перезапуск процесса, но не потерю диска.
type Spool struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// spoolRecord — форма Event на диске.
type spoolRecord struct {
	ID         []byte `cbor:"1,keyasint"`
	Type       string `cbor:"2,keyasint"`
	LeagueID   int64  `cbor:"3,keyasint"`
	AuctionID  []byte `cbor:"4,keyasint,omitempty"`
	PlayerID   int64  `cbor:"5,keyasint,omitempty"`
	UserID     int64  `cbor:"6,keyasint,omitempty"`
	Amount     int64  `cbor:"7,keyasint,omitempty"`
	Status     string `cbor:"8,keyasint,omitempty"`
	OccurredAt int64  `cbor:"9,keyasint"` // unix nanoseconds
	Attempts   uint32 `cbor:"10,keyasint,omitempty"`
}

// SpoolEntry — одно ожидающее событие.
type SpoolEntry struct {
	Key      []byte
	Event    Event
	Attempts uint32
}

// OpenSpool открывает (или создаёт) очередь в каталоге dir.
func OpenSpool(dir string) (*Spool, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open spool %s: %w", dir, err)
	}
	s := &Spool{db: db}
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *Spool) Deliver(_ context.Context, ev Event) error {
	val, err := encodeSpoolRecord(ev, 0)
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s%020d", spoolPrefix, s.seq.Add(1)))
	return s.db.Set(key, val, pebble.Sync)
}

func (s *Spool) Close() error {
	return s.db.Close()
}

// Pending возвращает до limit записей в порядке вставки.
func (s *Spool) Pending(limit int) ([]SpoolEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(spoolPrefix),
		UpperBound: []byte(spoolPrefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []SpoolEntry
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		ev, attempts, err := decodeSpoolRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode spool entry %s: %w", iter.Key(), err)
		}
		key := append([]byte(nil), iter.Key()...)
		out = append(out, SpoolEntry{Key: key, Event: ev, Attempts: attempts})
	}
	return out, iter.Error()
}

// Ack удаляет доставленную запись.
func (s *Spool) Ack(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

// Retry учитывает ещё одну неудачную попытку доставки записи.
func (s *Spool) Retry(e SpoolEntry) error {
	val, err := encodeSpoolRecord(e.Event, e.Attempts+1)
	if err != nil {
		return err
	}
	return s.db.Set(e.Key, val, pebble.Sync)
}

func encodeSpoolRecord(ev Event, attempts uint32) ([]byte, error) {
	rec := spoolRecord{
		ID:         ev.ID[:],
		Type:       ev.Type,
		LeagueID:   ev.LeagueID,
		PlayerID:   ev.PlayerID,
		UserID:     ev.UserID,
		Amount:     ev.Amount,
		Status:     ev.Status,
		OccurredAt: ev.OccurredAt.UnixNano(),
		Attempts:   attempts,
	}
	if ev.AuctionID != nil {
		rec.AuctionID = ev.AuctionID[:]
	}
	return cbor.Marshal(rec)
}

func decodeSpoolRecord(b []byte) (Event, uint32, error) {
	var rec spoolRecord
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return Event{}, 0, err
	}
	id, err := uuid.FromBytes(rec.ID)
	if err != nil {
		return Event{}, 0, err
	}
	ev := Event{
		ID:         id,
		Type:       rec.Type,
		LeagueID:   rec.LeagueID,
		PlayerID:   rec.PlayerID,
		UserID:     rec.UserID,
		Amount:     rec.Amount,
		Status:     rec.Status,
		OccurredAt: time.Unix(0, rec.OccurredAt).UTC(),
	}
	if len(rec.AuctionID) > 0 {
		aid, err := uuid.FromBytes(rec.AuctionID)
		if err != nil {
			return Event{}, 0, err
		}
		ev.AuctionID = &aid
	}
	return ev, rec.Attempts, nil
}
