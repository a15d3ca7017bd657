package mempool

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/crypto/keys"
	"github.com/hashborn/computechain/src/events"
	"github.com/hashborn/computechain/src/genesis"
	"github.com/hashborn/computechain/src/types"
)

// nonceMap is a static NonceView.
type nonceMap map[string]uint64

func (m nonceMap) Nonce(addr string) uint64 { return m[addr] }

type sender struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newSender(t *testing.T) *sender {
	t.Helper()
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	addr, err := crypto.AddressFromPubKey(keys.FromPublicKey(&key.PublicKey), crypto.PrefixAccount)
	require.NoError(t, err)
	return &sender{key: key, addr: addr}
}

func (s *sender) tx(t *testing.T, nonce uint64, gasPrice uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Type:      types.Transfer,
		Sender:    s.addr,
		Recipient: "cpc1recipient",
		Amount:    types.CPC(1),
		Nonce:     nonce,
		GasLimit:  21000,
		GasPrice:  gasPrice,
	}
	if err := tx.Sign(s.key); err != nil {
		t.Fatal(err)
	}
	return tx
}

func newTestPool(t *testing.T) (*Mempool, *events.Bus, <-chan events.Event) {
	t.Helper()
	bus := events.NewBus(common.NewTestEntry(t))
	_, ch := bus.Subscribe(1024)
	pool := New(genesis.DefaultParams(), bus, common.NewTestEntry(t))
	return pool, bus, ch
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestInsertAndDrain(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{alice.addr: 0}
	now := time.Now()

	res := pool.Insert(alice.tx(t, 0, 2000), view, now)
	require.Equal(t, Accepted, res.Status)
	require.Equal(t, 1, pool.Size())

	txs := pool.DrainForBlock(view, 0, 0)
	require.Len(t, txs, 1)
	require.Equal(t, 0, pool.Size())
}

// TestNonceGapDrain is the nonce-gap scenario: nonce 5 is admitted as
// pending while the state nonce is 3; once 3 and 4 arrive, one drain picks
// up all three in nonce order.
func TestNonceGapDrain(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{alice.addr: 3}
	now := time.Now()

	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 5, 1000), view, now).Status)

	// The gap blocks everything.
	require.Empty(t, pool.DrainForBlock(view, 0, 0))

	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 3, 1000), view, now).Status)
	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 4, 1000), view, now).Status)

	txs := pool.DrainForBlock(view, 0, 0)
	require.Len(t, txs, 3)
	require.Equal(t, uint64(3), txs[0].Nonce)
	require.Equal(t, uint64(4), txs[1].Nonce)
	require.Equal(t, uint64(5), txs[2].Nonce)
}

func TestDrainOrdersByGasPrice(t *testing.T) {
	pool, _, _ := newTestPool(t)
	a, b, c := newSender(t), newSender(t), newSender(t)
	view := nonceMap{}
	now := time.Now()

	require.Equal(t, Accepted, pool.Insert(a.tx(t, 0, 1000), view, now).Status)
	require.Equal(t, Accepted, pool.Insert(b.tx(t, 0, 5000), view, now).Status)
	require.Equal(t, Accepted, pool.Insert(c.tx(t, 0, 3000), view, now).Status)

	txs := pool.DrainForBlock(view, 0, 0)
	require.Len(t, txs, 3)
	require.Equal(t, uint64(5000), txs[0].GasPrice)
	require.Equal(t, uint64(3000), txs[1].GasPrice)
	require.Equal(t, uint64(1000), txs[2].GasPrice)
}

func TestDrainRespectsLimits(t *testing.T) {
	pool, _, _ := newTestPool(t)
	view := nonceMap{}
	now := time.Now()

	for i := 0; i < 5; i++ {
		s := newSender(t)
		require.Equal(t, Accepted, pool.Insert(s.tx(t, 0, 1000), view, now).Status)
	}

	require.Len(t, pool.DrainForBlock(view, 0, 2), 2)

	// Gas limit of two transfers.
	require.Len(t, pool.DrainForBlock(view, 42000, 0), 2)
}

func TestReplacementRequiresPriceBump(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{}
	now := time.Now()

	first := alice.tx(t, 0, 1000)
	require.Equal(t, Accepted, pool.Insert(first, view, now).Status)

	// Same price: rejected.
	res := pool.Insert(alice.tx(t, 0, 1000), view, now)
	require.Equal(t, Rejected, res.Status)
	require.True(t, common.IsCode(res.Err, common.DuplicateNonce))

	// +5% is below the 10% bump: rejected.
	res = pool.Insert(alice.tx(t, 0, 1050), view, now)
	require.Equal(t, Rejected, res.Status)

	// +20%: replaces.
	res = pool.Insert(alice.tx(t, 0, 1200), view, now)
	require.Equal(t, Replaced, res.Status)
	require.Equal(t, first.Hex(), res.ReplacedID)
	require.Equal(t, 1, pool.Size())
}

func TestStaleNonceRejected(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{alice.addr: 10}

	res := pool.Insert(alice.tx(t, 3, 1000), view, time.Now())
	require.Equal(t, Rejected, res.Status)
	require.True(t, common.IsCode(res.Err, common.StaleNonce))
}

func TestInvalidSignatureRejected(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	mallory := newSender(t)

	tx := alice.tx(t, 0, 1000)
	tx.Sender = mallory.addr

	res := pool.Insert(tx, nonceMap{}, time.Now())
	require.Equal(t, Rejected, res.Status)
	require.True(t, common.IsCode(res.Err, common.InvalidSignature))
}

// TestTTLBoundary: an entry expires exactly when its age reaches the TTL.
func TestTTLBoundary(t *testing.T) {
	pool, _, ch := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{}
	now := time.Now()

	tx := alice.tx(t, 0, 1000)
	require.Equal(t, Accepted, pool.Insert(tx, view, now).Status)
	drainEvents(ch)

	ttl := time.Duration(genesis.DefaultParams().MempoolTxTTLSecs) * time.Second

	// One instant before the boundary: kept.
	pool.Tick(now.Add(ttl - time.Nanosecond))
	require.Equal(t, 1, pool.Size())

	// Exactly at the boundary: expired.
	pool.Tick(now.Add(ttl))
	require.Equal(t, 0, pool.Size())

	evts := drainEvents(ch)
	require.Len(t, evts, 1)
	require.Equal(t, events.TxFailed, evts[0].Kind)
	require.Equal(t, tx.Hex(), evts[0].TxID)
	require.Equal(t, common.Expired.String(), evts[0].Reason)
}

func TestOnBlockAppliedRemovesAndPrunesStale(t *testing.T) {
	pool, _, ch := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{alice.addr: 0}
	now := time.Now()

	tx0 := alice.tx(t, 0, 1000)
	tx1 := alice.tx(t, 1, 1000)
	require.Equal(t, Accepted, pool.Insert(tx0, view, now).Status)
	require.Equal(t, Accepted, pool.Insert(tx1, view, now).Status)
	drainEvents(ch)

	// A block applied both nonces (tx1 was included from another node),
	// state nonce is now 2.
	after := nonceMap{alice.addr: 2}
	pool.OnBlockApplied([]string{tx0.Hex()}, after)

	require.Equal(t, 0, pool.Size())

	// tx1 was dropped as stale with a failure event.
	evts := drainEvents(ch)
	require.Len(t, evts, 1)
	require.Equal(t, tx1.Hex(), evts[0].TxID)
}

func TestSenderLimit(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{}
	now := time.Now()

	params := genesis.DefaultParams()
	for i := 0; i < params.MaxTxPerSender; i++ {
		require.Equal(t, Accepted, pool.Insert(alice.tx(t, uint64(i), 1000), view, now).Status)
	}

	res := pool.Insert(alice.tx(t, uint64(params.MaxTxPerSender), 1000), view, now)
	require.Equal(t, Rejected, res.Status)
	require.True(t, common.IsCode(res.Err, common.SenderLimitExceeded))
}

func TestPendingForSender(t *testing.T) {
	pool, _, _ := newTestPool(t)
	alice := newSender(t)
	view := nonceMap{}
	now := time.Now()

	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 2, 1000), view, now).Status)
	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 0, 1000), view, now).Status)
	require.Equal(t, Accepted, pool.Insert(alice.tx(t, 1, 1000), view, now).Status)

	pending := pool.PendingForSender(alice.addr)
	require.Len(t, pending, 3)
	require.Equal(t, uint64(0), pending[0].Nonce)
	require.Equal(t, uint64(1), pending[1].Nonce)
	require.Equal(t, uint64(2), pending[2].Nonce)
}
