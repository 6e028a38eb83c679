package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FICCapture writes the raw FIB stream to a zstd-compressed file for
// off-air debugging: captures can be replayed against the parsers to
// reproduce switching behaviour seen in the field. Frames are written
// back to back; the fixed FIB size keeps the file self-framing.
type FICCapture struct {
	mu      sync.Mutex
	file    *os.File
	encoder *zstd.Encoder
	frames  uint64
}

// NewFICCapture opens the capture file, appending .zst when missing
func NewFICCapture(path string) (*FICCapture, error) {
	if !strings.HasSuffix(path, ".zst") {
		path += ".zst"
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	log.Printf("FIC: capturing FIBs to %s", path)
	return &FICCapture{file: file, encoder: encoder}, nil
}

// WriteFrame appends one FIB to the capture. Write errors are logged
// once and the capture disabled rather than disturbing reception.
func (fc *FICCapture) WriteFrame(fib []byte) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.encoder == nil {
		return
	}
	if _, err := fc.encoder.Write(fib); err != nil {
		log.Printf("FIC: capture write failed, disabling capture: %v", err)
		fc.closeLocked()
		return
	}
	fc.frames++
}

// Close flushes and closes the capture file
func (fc *FICCapture) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.encoder != nil {
		log.Printf("FIC: capture closed after %d frames", fc.frames)
	}
	fc.closeLocked()
}

func (fc *FICCapture) closeLocked() {
	if fc.encoder != nil {
		fc.encoder.Close()
		fc.encoder = nil
	}
	if fc.file != nil {
		fc.file.Close()
		fc.file = nil
	}
}
