package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake id generator
// ============================================================================
//
// Transaction numbers and outbox event ids must be:
//   1. unique across every instance writing to the same database
//      (card_transactions.transaction_no carries a unique index)
//   2. roughly increasing, so inserts land at the end of that index
//   3. cheap to generate under the per-card lock, with no round trip
//
// Layout, 64 bits:
//
//   0 - 41 bits timestamp - 10 bits worker id - 12 bits sequence
//   |   |                   |                   |
//   |   |                   |                   +-- sequence within one ms (0-4095)
//   |   |                   +-- worker id (0-1023), one per instance
//   |   +-- milliseconds since epoch (about 69 years)
//   +-- sign bit, always 0
//
// Two instances with the same worker id issue the same id in the same
// millisecond, so server.worker_id must differ per instance.
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	MaxWorkerID    = -1 ^ (-1 << workerIDBits) // 1023
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() int64
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d, got %d", MaxWorkerID, workerID)
	}
	return &Snowflake{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

var (
	defaultGenerator *Snowflake
	defaultMu        sync.Mutex
)

// Init replaces the process-wide generator used by the Generate* helpers.
func Init(workerID int64) error {
	g, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = g
	defaultMu.Unlock()
	return nil
}

func NextID() int64 {
	defaultMu.Lock()
	g := defaultGenerator
	if g == nil {
		g, _ = NewSnowflake(1)
		defaultGenerator = g
	}
	defaultMu.Unlock()
	return g.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now < s.timestamp {
		// clock moved backwards; keep issuing from the last seen millisecond
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo returns a ledger transaction number,
// e.g. TXN20240115143052_0001234567890123.
func GenerateTransactionNo() string {
	return format("TXN", NextID())
}

// GenerateEventKey returns a unique id for an outbox event.
func GenerateEventKey() string {
	return format("EVT", NextID())
}

func format(prefix string, id int64) string {
	return fmt.Sprintf("%s%s_%016d", prefix, time.Now().UTC().Format("20060102150405"), id%10000000000000000)
}
