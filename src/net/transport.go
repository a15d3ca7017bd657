package net

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/peers"
	"github.com/hashborn/computechain/src/types"
	"github.com/hashborn/computechain/src/version"
)

// BlacklistDuration is how long a peer stays banned after a genesis
// mismatch.
const BlacklistDuration = 10 * time.Minute

// dedupTTL bounds the short-term gossip dedup cache.
const dedupTTL = 2 * time.Minute

// TipInfo lets the transport fill Hello messages with the current chain
// position without reaching into the node.
type TipInfo interface {
	Tip() (height uint64, hash []byte)
}

// Transport maintains persistent TCP sessions with peers. Every session is
// gated on a Hello carrying the local genesis hash; everything after the
// Hello is gossip and sync traffic delivered to the consumer channel.
type Transport struct {
	bindAddr      string
	advertiseAddr string
	networkID     string
	genesisHash   []byte
	nodeID        uint32
	validatorAddr string

	tip     TipInfo
	peerSet *peers.PeerSet

	listener net.Listener

	sessionsLock sync.RWMutex
	sessions     map[string]*session

	dedupLock sync.Mutex
	dedup     map[string]time.Time

	consumeCh chan Inbound

	ioTimeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup

	logger *logrus.Entry
}

// NewTransport ...
func NewTransport(
	bindAddr string,
	advertiseAddr string,
	networkID string,
	genesisHash []byte,
	validatorAddr string,
	tip TipInfo,
	peerSet *peers.PeerSet,
	ioTimeout time.Duration,
	logger *logrus.Entry,
) *Transport {

	if advertiseAddr == "" {
		advertiseAddr = bindAddr
	}

	return &Transport{
		bindAddr:      bindAddr,
		advertiseAddr: advertiseAddr,
		networkID:     networkID,
		genesisHash:   append([]byte(nil), genesisHash...),
		nodeID:        common.Hash32([]byte(advertiseAddr)),
		validatorAddr: validatorAddr,
		tip:           tip,
		peerSet:       peerSet,
		sessions:      make(map[string]*session),
		dedup:         make(map[string]time.Time),
		consumeCh:     make(chan Inbound, 256),
		ioTimeout:     ioTimeout,
		shutdownCh:    make(chan struct{}),
		logger:        logger.WithField("prefix", "p2p"),
	}
}

// Consumer returns the channel on which inbound messages are delivered.
func (t *Transport) Consumer() <-chan Inbound {
	return t.consumeCh
}

// AdvertiseAddr ...
func (t *Transport) AdvertiseAddr() string {
	return t.advertiseAddr
}

// Listen binds the TCP listener and accepts connections until shutdown.
func (t *Transport) Listen() error {
	l, err := net.Listen("tcp", t.bindAddr)
	if err != nil {
		return common.NewError(common.Network, "listen %s: %v", t.bindAddr, err)
	}
	t.listener = l

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.IsShutdown() {
				return
			}
			t.logger.WithError(err).Error("Failed to accept connection")
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleInbound(conn)
		}()
	}
}

// hello builds the local Hello message.
func (t *Transport) hello() Hello {
	height, hash := t.tip.Tip()
	return Hello{
		NetworkID:       t.networkID,
		GenesisHash:     t.genesisHash,
		ProtocolVersion: version.ProtocolVersion,
		NodeID:          t.nodeID,
		TipHeight:       height,
		TipHash:         hash,
		ValidatorAddr:   t.validatorAddr,
		ListenAddr:      t.advertiseAddr,
	}
}

// checkHello gates a session on the shared genesis.
func (t *Transport) checkHello(h *Hello) error {
	if !bytes.Equal(h.GenesisHash, t.genesisHash) {
		return common.NewError(common.GenesisMismatch, "peer %s", h.ListenAddr)
	}
	if h.ProtocolVersion != version.ProtocolVersion {
		return common.NewError(common.GenesisMismatch, "peer %s: protocol %d", h.ListenAddr, h.ProtocolVersion)
	}
	return nil
}

// handleInbound performs the Hello exchange for an accepted connection.
func (t *Transport) handleInbound(conn net.Conn) {
	r := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(t.ioTimeout))
	kind, body, err := readFrame(r)
	if err != nil || kind != KindHello {
		conn.Close()
		return
	}

	var h Hello
	if err := types.Decode(body, &h); err != nil {
		conn.Close()
		return
	}

	if t.peerSet.Blacklisted(h.ListenAddr, time.Now()) {
		conn.Close()
		return
	}

	s := newSession(conn, h)
	s.r = r

	// Always answer with our own Hello so the dialer can see the mismatch
	// too, then gate.
	if err := s.send(KindHello, t.hello(), t.ioTimeout); err != nil {
		s.close()
		return
	}

	if err := t.checkHello(&h); err != nil {
		t.logger.WithFields(logrus.Fields{
			"peer":  h.ListenAddr,
			"error": err,
		}).Warn("Refusing peer with mismatched genesis")
		t.peerSet.Blacklist(h.ListenAddr, time.Now().Add(BlacklistDuration))
		s.close()
		return
	}

	t.registerSession(s)
	t.readLoop(s)
}

// Dial connects to a peer, performs the Hello exchange and starts the read
// loop. It is a no-op if a session already exists or the address is our
// own; dialing a blacklisted peer returns a Network error.
func (t *Transport) Dial(netAddr string) error {
	if netAddr == t.advertiseAddr {
		return nil
	}
	if t.peerSet.Blacklisted(netAddr, time.Now()) {
		return common.NewError(common.Network, "peer %s is blacklisted", netAddr)
	}

	t.sessionsLock.RLock()
	_, exists := t.sessions[netAddr]
	t.sessionsLock.RUnlock()
	if exists {
		return nil
	}

	conn, err := net.DialTimeout("tcp", netAddr, t.ioTimeout)
	if err != nil {
		return common.NewError(common.Network, "dial %s: %v", netAddr, err)
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	conn.SetWriteDeadline(time.Now().Add(t.ioTimeout))
	if err := writeFrame(w, KindHello, t.hello()); err != nil {
		conn.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		conn.Close()
		return common.NewError(common.Network, "hello %s: %v", netAddr, err)
	}

	conn.SetReadDeadline(time.Now().Add(t.ioTimeout))
	kind, body, err := readFrame(r)
	if err != nil || kind != KindHello {
		conn.Close()
		return common.NewError(common.Network, "no hello from %s", netAddr)
	}

	var h Hello
	if err := types.Decode(body, &h); err != nil {
		conn.Close()
		return err
	}

	if err := t.checkHello(&h); err != nil {
		t.logger.WithFields(logrus.Fields{
			"peer":  netAddr,
			"error": err,
		}).Warn("Closing session to peer with mismatched genesis")
		t.peerSet.Blacklist(netAddr, time.Now().Add(BlacklistDuration))
		conn.Close()
		return err
	}

	if h.ListenAddr == "" {
		h.ListenAddr = netAddr
	}

	s := newSession(conn, h)
	s.r = r
	s.w = w

	t.registerSession(s)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(s)
	}()

	return nil
}

func (t *Transport) registerSession(s *session) {
	t.sessionsLock.Lock()
	if old, ok := t.sessions[s.listenAddr]; ok {
		old.close()
	}
	t.sessions[s.listenAddr] = s
	t.sessionsLock.Unlock()

	peer := peers.NewPeer(s.listenAddr)
	peer.ValidatorAddr = s.hello.ValidatorAddr
	t.peerSet.Add(peer)

	t.logger.WithFields(s.logFields()).Debug("Session established")

	// Surface the peer's Hello so the node can trigger sync against its
	// tip.
	h := s.hello
	t.deliver(Inbound{From: s.listenAddr, Kind: KindHello, Hello: &h})
}

func (t *Transport) dropSession(s *session) {
	s.close()
	t.sessionsLock.Lock()
	if cur, ok := t.sessions[s.listenAddr]; ok && cur == s {
		delete(t.sessions, s.listenAddr)
	}
	t.sessionsLock.Unlock()
}

// readLoop processes a session's frames until error or shutdown. Read
// deadlines are refreshed per frame; peers ping within the keep-alive
// interval to hold idle sessions open.
func (t *Transport) readLoop(s *session) {
	defer t.dropSession(s)

	for {
		if t.IsShutdown() {
			return
		}

		kind, body, err := s.read(3 * t.ioTimeout)
		if err != nil {
			if !t.IsShutdown() {
				t.logger.WithFields(s.logFields()).WithError(err).Debug("Session closed")
			}
			return
		}

		switch kind {
		case KindPing:
			s.send(KindPong, struct{}{}, t.ioTimeout)
			continue
		case KindPong:
			continue
		}

		in, err := decodeInbound(s.listenAddr, kind, body)
		if err != nil {
			t.logger.WithFields(s.logFields()).WithError(err).Warn("Dropping malformed message")
			continue
		}

		t.deliver(*in)
	}
}

func (t *Transport) deliver(in Inbound) {
	select {
	case t.consumeCh <- in:
	case <-t.shutdownCh:
	}
}

// seen marks an id in the gossip dedup cache and reports whether it was
// already present.
func (t *Transport) seen(id string) bool {
	t.dedupLock.Lock()
	defer t.dedupLock.Unlock()

	now := time.Now()
	for k, ts := range t.dedup {
		if now.Sub(ts) > dedupTTL {
			delete(t.dedup, k)
		}
	}

	if _, ok := t.dedup[id]; ok {
		return true
	}
	t.dedup[id] = now
	return false
}

// MarkSeen inserts an id into the dedup cache (used for self-produced
// blocks and transactions so gossip does not echo them back through us).
func (t *Transport) MarkSeen(id string) {
	t.seen(id)
}

// BroadcastBlock relays a block to every session except the originating
// peer, once per block id.
func (t *Transport) BroadcastBlock(block *types.Block, except string) {
	if t.seen(block.Hex()) && except != "" {
		return
	}
	t.broadcast(KindBlock, block, except)
}

// BroadcastTx relays a transaction with identical mechanics.
func (t *Transport) BroadcastTx(tx *types.Transaction, except string) {
	if t.seen(tx.Hex()) && except != "" {
		return
	}
	t.broadcast(KindTx, tx, except)
}

func (t *Transport) broadcast(kind uint8, body interface{}, except string) {
	t.sessionsLock.RLock()
	targets := make([]*session, 0, len(t.sessions))
	for addr, s := range t.sessions {
		if addr == except {
			continue
		}
		targets = append(targets, s)
	}
	t.sessionsLock.RUnlock()

	for _, s := range targets {
		if err := s.send(kind, body, t.ioTimeout); err != nil {
			t.logger.WithFields(s.logFields()).WithError(err).Debug("Broadcast send failed")
			t.dropSession(s)
		}
	}
}

// Send delivers one message to one peer.
func (t *Transport) Send(to string, kind uint8, body interface{}) error {
	t.sessionsLock.RLock()
	s, ok := t.sessions[to]
	t.sessionsLock.RUnlock()
	if !ok {
		return common.NewError(common.Network, "no session with %s", to)
	}

	if err := s.send(kind, body, t.ioTimeout); err != nil {
		t.dropSession(s)
		return err
	}
	return nil
}

// PingAll keeps idle sessions alive.
func (t *Transport) PingAll() {
	t.broadcast(KindPing, struct{}{}, "")
}

// Sessions returns the addresses of live sessions.
func (t *Transport) Sessions() []string {
	t.sessionsLock.RLock()
	defer t.sessionsLock.RUnlock()

	out := make([]string, 0, len(t.sessions))
	for addr := range t.sessions {
		out = append(out, addr)
	}
	return out
}

// IsShutdown ...
func (t *Transport) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// Close terminates all sessions and stops the listener.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if t.shutdown {
		return nil
	}
	t.shutdown = true
	close(t.shutdownCh)

	if t.listener != nil {
		t.listener.Close()
	}

	t.sessionsLock.Lock()
	for _, s := range t.sessions {
		s.close()
	}
	t.sessions = make(map[string]*session)
	t.sessionsLock.Unlock()

	t.wg.Wait()
	return nil
}
