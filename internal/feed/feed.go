package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// ErrClosed indicates the feed has no further ledgers.
var ErrClosed = errors.New("feed: closed")

// Source supplies closed ledgers in strictly increasing sequence order.
type Source interface {
	Next(ctx context.Context) (ledger.Ledger, error)
	Close() error
}

// File replays pre-fetched ledgers from a JSON-lines file, one ledger object
// per line. The ledger data is assumed already fetched; no network access
// happens here.
type File struct {
	file    *os.File
	decoder *json.Decoder
	last    int64
}

// OpenFile opens a JSON-lines ledger file for replay.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger feed: %w", err)
	}
	return &File{file: f, decoder: json.NewDecoder(f)}, nil
}

// Next returns the next ledger, enforcing strictly increasing sequences.
// Returns ErrClosed once the file is exhausted.
func (f *File) Next(ctx context.Context) (ledger.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Ledger{}, err
	}

	var led ledger.Ledger
	if err := f.decoder.Decode(&led); err != nil {
		if errors.Is(err, io.EOF) {
			return ledger.Ledger{}, ErrClosed
		}
		return ledger.Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}

	if led.Sequence <= f.last {
		return ledger.Ledger{}, fmt.Errorf("feed out of order: ledger %d after %d", led.Sequence, f.last)
	}
	f.last = led.Sequence

	return led, nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	return f.file.Close()
}
