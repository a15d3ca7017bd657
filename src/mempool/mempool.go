// Package mempool holds transactions between submission and block
// inclusion: gas-price priority, nonce-aware per-sender queues, TTL expiry
// and at-most-once handoff to the proposer.
package mempool

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/events"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// MinPriceBumpBps is how much a replacement transaction must outbid the one
// it replaces: 10%.
const MinPriceBumpBps = 1000

// Status of an insertion.
type Status int

const (
	// Accepted ...
	Accepted Status = iota
	// Replaced means the tx took the slot of a previous (sender, nonce)
	// entry with a sufficient price bump.
	Replaced
	// Rejected ...
	Rejected
)

// InsertResult reports an insertion outcome.
type InsertResult struct {
	Status Status
	// ReplacedID is set when Status == Replaced.
	ReplacedID string
	// Err carries the rejection reason when Status == Rejected.
	Err error
}

// NonceView exposes the state nonces the mempool validates against.
type NonceView interface {
	Nonce(addr string) uint64
}

type entry struct {
	tx         *types.Transaction
	insertedAt time.Time
	seq        uint64
}

// Mempool is a shared container. Admission and drain are mutually
// exclusive; all structures live behind one mutex.
type Mempool struct {
	sync.Mutex

	params genesis.Params
	bus    *events.Bus
	logger *logrus.Entry

	byHash   map[string]*entry
	bySender map[string]map[uint64]*entry
	seq      uint64
}

// New ...
func New(params genesis.Params, bus *events.Bus, logger *logrus.Entry) *Mempool {
	return &Mempool{
		params:   params,
		bus:      bus,
		logger:   logger.WithField("prefix", "mempool"),
		byHash:   make(map[string]*entry),
		bySender: make(map[string]map[uint64]*entry),
	}
}

// MaxSize is the default capacity bound.
const MaxSize = 5000

// Insert validates and admits a transaction. now is the admission
// timestamp used for TTL accounting.
func (m *Mempool) Insert(tx *types.Transaction, view NonceView, now time.Time) InsertResult {
	m.Lock()
	defer m.Unlock()

	if res := m.validate(tx, view); res != nil {
		return *res
	}

	if _, ok := m.byHash[tx.Hex()]; ok {
		return reject(common.NewError(common.DuplicateNonce, "tx %s already pooled", tx.Hex()))
	}

	senderQueue := m.bySender[tx.Sender]

	// A (sender, nonce) slot is only replaceable with a sufficient bump.
	if old, ok := senderQueue[tx.Nonce]; ok {
		bumped := old.tx.GasPrice + old.tx.GasPrice*MinPriceBumpBps/types.BpsDenom
		if tx.GasPrice <= bumped {
			return reject(common.NewError(common.DuplicateNonce,
				"tx %s: nonce %d held by %s at price %d", tx.Hex(), tx.Nonce, old.tx.Hex(), old.tx.GasPrice))
		}
		m.remove(old)
		m.bus.PublishTxFailed(old.tx.Hex(), common.DuplicateNonce.String())
		m.insert(tx, now)
		m.logger.WithFields(logrus.Fields{
			"tx":       tx.Hex(),
			"replaced": old.tx.Hex(),
		}).Debug("Replaced transaction")
		return InsertResult{Status: Replaced, ReplacedID: old.tx.Hex()}
	}

	if len(senderQueue) >= m.params.MaxTxPerSender {
		return reject(common.NewError(common.SenderLimitExceeded, "sender %s", tx.Sender))
	}

	if len(m.byHash) >= MaxSize {
		victim := m.lowestPriority()
		if victim == nil || victim.tx.GasPrice >= tx.GasPrice {
			return reject(common.NewError(common.MempoolFull, "tx %s", tx.Hex()))
		}
		m.remove(victim)
		m.bus.PublishTxFailed(victim.tx.Hex(), common.Evicted.String())
		m.logger.WithField("tx", victim.tx.Hex()).Debug("Evicted transaction")
	}

	m.insert(tx, now)
	m.bus.PublishTxAccepted(tx.Hex())
	return InsertResult{Status: Accepted}
}

// validate runs signature, structural and admission checks. Returns nil
// when the tx is admissible.
func (m *Mempool) validate(tx *types.Transaction, view NonceView) *InsertResult {
	if !tx.Type.Valid() {
		return rejectP(common.NewError(common.Malformed, "tx %s: unknown type", tx.Hex()))
	}
	if err := tx.Verify(); err != nil {
		return rejectP(err)
	}

	baseGas := types.BaseGas(tx.Type)
	if tx.GasLimit < baseGas {
		return rejectP(common.NewError(common.GasLimitTooLow, "tx %s", tx.Hex()))
	}
	if tx.GasPrice < m.params.MinGasPrice {
		return rejectP(common.NewError(common.GasPriceTooLow, "tx %s", tx.Hex()))
	}

	if stateNonce := view.Nonce(tx.Sender); tx.Nonce < stateNonce {
		return rejectP(common.NewError(common.StaleNonce, "tx %s: nonce %d < state %d", tx.Hex(), tx.Nonce, stateNonce))
	}
	return nil
}

func reject(err error) InsertResult {
	return InsertResult{Status: Rejected, Err: err}
}

func rejectP(err error) *InsertResult {
	r := reject(err)
	return &r
}

func (m *Mempool) insert(tx *types.Transaction, now time.Time) {
	m.seq++
	e := &entry{tx: tx, insertedAt: now, seq: m.seq}
	m.byHash[tx.Hex()] = e
	q, ok := m.bySender[tx.Sender]
	if !ok {
		q = make(map[uint64]*entry)
		m.bySender[tx.Sender] = q
	}
	q[tx.Nonce] = e
}

func (m *Mempool) remove(e *entry) {
	delete(m.byHash, e.tx.Hex())
	if q, ok := m.bySender[e.tx.Sender]; ok {
		delete(q, e.tx.Nonce)
		if len(q) == 0 {
			delete(m.bySender, e.tx.Sender)
		}
	}
}

// lowestPriority returns the entry with the lowest gas price, newest
// insertion breaking ties.
func (m *Mempool) lowestPriority() *entry {
	var victim *entry
	for _, e := range m.byHash {
		if victim == nil ||
			e.tx.GasPrice < victim.tx.GasPrice ||
			(e.tx.GasPrice == victim.tx.GasPrice && e.seq > victim.seq) {
			victim = e
		}
	}
	return victim
}

// DrainForBlock selects the next block's transactions: ready transactions
// in decreasing gas price, FIFO on ties. Consuming a sender's ready
// transaction unblocks the next nonce in its queue within the same pass,
// bounded by the gas and count limits. Drained entries are removed; the
// at-most-once guarantee holds because admission and drain are mutually
// exclusive.
func (m *Mempool) DrainForBlock(view NonceView, gasLimit uint64, txLimit int) []*types.Transaction {
	m.Lock()
	defer m.Unlock()

	nextNonce := make(map[string]uint64)
	var drained []*types.Transaction
	var gasUsed uint64

	for txLimit <= 0 || len(drained) < txLimit {
		var best *entry
		for sender, q := range m.bySender {
			want, ok := nextNonce[sender]
			if !ok {
				want = view.Nonce(sender)
			}
			e, ok := q[want]
			if !ok {
				continue
			}
			if best == nil ||
				e.tx.GasPrice > best.tx.GasPrice ||
				(e.tx.GasPrice == best.tx.GasPrice && e.seq < best.seq) {
				best = e
			}
		}
		if best == nil {
			break
		}

		gas := types.BaseGas(best.tx.Type)
		if gasLimit > 0 && gasUsed+gas > gasLimit {
			// This sender's chain is blocked for this block; do not pull
			// later nonces past the gap.
			nextNonce[best.tx.Sender] = ^uint64(0)
			continue
		}

		m.remove(best)
		drained = append(drained, best.tx)
		gasUsed += gas
		nextNonce[best.tx.Sender] = best.tx.Nonce + 1
	}

	return drained
}

// OnBlockApplied removes transactions included in a block and drops
// entries made stale by the advancing state nonces, notifying their
// submitters.
func (m *Mempool) OnBlockApplied(appliedIDs []string, view NonceView) {
	m.Lock()
	defer m.Unlock()

	for _, id := range appliedIDs {
		if e, ok := m.byHash[id]; ok {
			m.remove(e)
		}
	}

	for _, q := range m.bySender {
		for _, e := range q {
			if e.tx.Nonce < view.Nonce(e.tx.Sender) {
				m.remove(e)
				m.bus.PublishTxFailed(e.tx.Hex(), common.InvalidNonce.String())
			}
		}
	}
}

// Tick sweeps expired entries. Entries whose age has reached the TTL are
// evicted with a tx_failed(expired) event.
func (m *Mempool) Tick(now time.Time) {
	m.Lock()
	defer m.Unlock()

	ttl := time.Duration(m.params.MempoolTxTTLSecs) * time.Second

	for _, e := range m.byHash {
		if now.Sub(e.insertedAt) >= ttl {
			m.remove(e)
			m.bus.PublishTxFailed(e.tx.Hex(), common.Expired.String())
			m.logger.WithField("tx", e.tx.Hex()).Debug("Expired transaction")
		}
	}
}

// Size returns the number of pooled transactions.
func (m *Mempool) Size() int {
	m.Lock()
	defer m.Unlock()
	return len(m.byHash)
}

// PendingForSender returns the pooled transactions of one sender ordered
// by nonce.
func (m *Mempool) PendingForSender(sender string) []*types.Transaction {
	m.Lock()
	defer m.Unlock()

	q := m.bySender[sender]
	var nonces []uint64
	for n := range q {
		nonces = append(nonces, n)
	}
	for i := 1; i < len(nonces); i++ {
		for j := i; j > 0 && nonces[j-1] > nonces[j]; j-- {
			nonces[j-1], nonces[j] = nonces[j], nonces[j-1]
		}
	}
	out := make([]*types.Transaction, 0, len(nonces))
	for _, n := range nonces {
		out = append(out, q[n].tx)
	}
	return out
}
