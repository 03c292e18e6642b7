package store

import (
	"context"
	"sync"
	"time"

	"mabletask/agent/logger"
	"mabletask/agent/models"
	"mabletask/agent/transport"
)

const ledgerFlushTimeout = 5 * time.Second

// RecordWriter persists a batch of ledger records.
type RecordWriter interface {
	InsertRecords(ctx context.Context, records []models.LedgerRecord) error
}

var _ transport.Recorder = (*Ledger)(nil)

// Ledger buffers ledger records in a channel and batch-writes them from a
// single background goroutine. Offer never blocks.
type Ledger struct {
	records        chan models.LedgerRecord
	closed         chan struct{}
	once           sync.Once
	writer         RecordWriter
	log            logger.Logger
	flushInterval  time.Duration
	flushThreshold int
	wg             sync.WaitGroup
}

// NewLedger creates a ledger buffer of the given capacity.
func NewLedger(writer RecordWriter, capacity, flushThreshold int, flushInterval time.Duration, log logger.Logger) *Ledger {
	if flushThreshold <= 0 {
		flushThreshold = 1
	}
	return &Ledger{
		records:        make(chan models.LedgerRecord, capacity),
		closed:         make(chan struct{}),
		writer:         writer,
		log:            log,
		flushInterval:  flushInterval,
		flushThreshold: flushThreshold,
	}
}

// Offer performs a non-blocking send. It returns false if the buffer is full.
func (l *Ledger) Offer(rec models.LedgerRecord) bool {
	select {
	case l.records <- rec:
		return true
	default:
		return false
	}
}

// Start launches the flush goroutine.
func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.flushLoop()
}

// Stop closes the buffer, flushes what is left and waits. Safe to call twice.
func (l *Ledger) Stop() {
	l.once.Do(func() { close(l.closed) })
	l.wg.Wait()
}

func (l *Ledger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]models.LedgerRecord, 0, l.flushThreshold)
	for {
		select {
		case rec := <-l.records:
			batch = append(batch, rec)
			if len(batch) >= l.flushThreshold {
				l.flush(batch)
				batch = make([]models.LedgerRecord, 0, l.flushThreshold)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]models.LedgerRecord, 0, l.flushThreshold)
			}
		case <-l.closed:
			batch = l.drain(batch)
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}

func (l *Ledger) drain(batch []models.LedgerRecord) []models.LedgerRecord {
	for {
		select {
		case rec := <-l.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

func (l *Ledger) flush(batch []models.LedgerRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerFlushTimeout)
	defer cancel()

	if err := l.writer.InsertRecords(ctx, batch); err != nil {
		l.log.Error("Failed to write ledger batch",
			logger.Int("records", len(batch)),
			logger.Error(err),
		)
	}
}
