package results

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// TrafficCapture writes every relayed frame to a zstd-compressed record
// stream, one file per session. Records are length-prefixed:
// direction byte (1 = bot to engine), name length, name, frame length, frame.
type TrafficCapture struct {
	mu     sync.Mutex
	file   *os.File
	enc    *zstd.Encoder
	failed bool
}

func NewTrafficCapture(path string) (*TrafficCapture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create traffic capture: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not create zstd writer: %w", err)
	}
	return &TrafficCapture{file: f, enc: enc}, nil
}

// Record appends one frame. Write failures are sticky and silent: capture is
// diagnostics, never worth stalling a match for.
func (c *TrafficCapture) Record(player string, toEngine bool, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed || c.enc == nil {
		return
	}

	var dir byte
	if toEngine {
		dir = 1
	}

	var hdr [9]byte
	hdr[0] = dir
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(player)))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(frame)))

	for _, chunk := range [][]byte{hdr[:], []byte(player), frame} {
		if _, err := c.enc.Write(chunk); err != nil {
			c.failed = true
			return
		}
	}
}

func (c *TrafficCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return nil
	}

	err := c.enc.Close()
	c.enc = nil
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}
