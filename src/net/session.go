package net

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

// session is one live peer connection after a successful Hello exchange.
type session struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	// listenAddr is the peer's advertised address, which keys the session.
	listenAddr string
	hello      Hello

	writeLock sync.Mutex
	closeOnce sync.Once
}

func newSession(conn net.Conn, hello Hello) *session {
	return &session{
		conn:       conn,
		r:          bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
		listenAddr: hello.ListenAddr,
		hello:      hello,
	}
}

// send writes one frame under the session write lock with a write
// deadline.
func (s *session) send(kind uint8, body interface{}, timeout time.Duration) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if timeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := writeFrame(s.w, kind, body); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return common.NewError(common.Network, "flush: %v", err)
	}
	return nil
}

// read reads one frame with a read deadline covering the keep-alive
// interval.
func (s *session) read(timeout time.Duration) (uint8, []byte, error) {
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	return readFrame(s.r)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// decodeInbound turns a raw frame into an Inbound message.
func decodeInbound(from string, kind uint8, body []byte) (*Inbound, error) {
	in := &Inbound{From: from, Kind: kind}

	switch kind {
	case KindHello:
		var h Hello
		if err := types.Decode(body, &h); err != nil {
			return nil, err
		}
		in.Hello = &h
	case KindBlock:
		var b types.Block
		if err := types.Decode(body, &b); err != nil {
			return nil, err
		}
		in.Block = &b
	case KindTx:
		var tx types.Transaction
		if err := types.Decode(body, &tx); err != nil {
			return nil, err
		}
		in.Tx = &tx
	case KindGetBlocks:
		var g GetBlocks
		if err := types.Decode(body, &g); err != nil {
			return nil, err
		}
		in.GetBlocks = &g
	case KindBlocks:
		var bs Blocks
		if err := types.Decode(body, &bs); err != nil {
			return nil, err
		}
		in.Blocks = &bs
	case KindPing, KindPong:
	default:
		return nil, common.NewError(common.Malformed, "unknown message kind %d", kind)
	}

	return in, nil
}

// logFields identifies the session in logs.
func (s *session) logFields() logrus.Fields {
	return logrus.Fields{
		"peer":      s.listenAddr,
		"remote":    s.conn.RemoteAddr().String(),
		"tip":       s.hello.TipHeight,
		"validator": s.hello.ValidatorAddr,
	}
}
