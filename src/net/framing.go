package net

import (
	"encoding/binary"
	"io"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/types"
)

// MaxFrameSize bounds a single wire frame. Larger frames terminate the
// session.
const MaxFrameSize = 8 << 20

// writeFrame writes one length-prefixed frame: u32 big-endian length, one
// kind byte, canonical body.
func writeFrame(w io.Writer, kind uint8, body interface{}) error {
	payload, err := types.Encode(body)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(1+len(payload)))
	frame[4] = kind
	copy(frame[5:], payload)

	if len(frame) > MaxFrameSize {
		return common.NewError(common.TooLarge, "frame %d bytes", len(frame))
	}

	_, err = w.Write(frame)
	if err != nil {
		return common.NewError(common.Network, "write frame: %v", err)
	}
	return nil
}

// readFrame reads one frame and returns its kind and raw body.
func readFrame(r io.Reader) (uint8, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameSize {
		return 0, nil, common.NewError(common.TooLarge, "frame %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	return payload[0], payload[1:], nil
}
