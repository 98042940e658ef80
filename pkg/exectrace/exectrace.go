// Package exectrace records a per-commit diagnostic event stream for a
// batch executed by pkg/engine and exports it zstd-compressed. It never
// substitutes for the multi-version store: a trace is write-only, read
// back only for offline inspection, and the engine runs identically
// whether or not one is attached.
package exectrace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mnohosten/blockstm/pkg/compression"
	"github.com/mnohosten/blockstm/pkg/engine"
)

// Record is the JSON-line shape written for every committed transaction.
type Record struct {
	Idx         int  `json:"idx"`
	Incarnation int  `json:"incarnation"`
	Successful  bool `json:"successful"`
	Committed   int  `json:"committed"`
	Total       int  `json:"total"`
}

// Recorder accumulates engine.CommitEvent values as newline-delimited JSON
// and zstd-compresses the whole trace when Close is called. Safe for
// concurrent use from engine.Config.OnCommitEvent, which the scheduler
// calls from whichever goroutine committed that transaction.
//
// Buffering the trace in memory rather than streaming it lets the
// compressor see the whole run at once (a fixed batch, not an unbounded
// stream), the same whole-buffer shape pkg/compression.Compressor already
// exposes.
type Recorder struct {
	mu   sync.Mutex
	w    io.Writer
	comp *compression.Compressor
	buf  bytes.Buffer
}

// NewRecorder creates a Recorder that writes its zstd-compressed trace to
// w when Close is called.
func NewRecorder(w io.Writer, level int) (*Recorder, error) {
	comp, err := compression.NewCompressor(compression.ZstdConfig(level))
	if err != nil {
		return nil, fmt.Errorf("exectrace: failed to create compressor: %w", err)
	}
	return &Recorder{w: w, comp: comp}, nil
}

// Hook returns an engine.Config.OnCommitEvent-compatible callback bound to
// this recorder.
func (r *Recorder) Hook() func(engine.CommitEvent) {
	return r.Record
}

// Record appends ev to the trace, encoding it as one JSON line.
func (r *Recorder) Record(ev engine.CommitEvent) {
	rec := Record{
		Idx:         int(ev.Idx),
		Incarnation: int(ev.Incarnation),
		Successful:  ev.Successful,
		Committed:   ev.Committed,
		Total:       ev.Total,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := json.NewEncoder(&r.buf).Encode(rec); err != nil {
		// A commit-event hook cannot return an error to the scheduler; a
		// malformed record is dropped rather than aborting the batch.
		return
	}
}

// Close compresses the accumulated trace and writes it out, then releases
// the compressor's resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.comp.Close()

	compressed, err := r.comp.Compress(r.buf.Bytes())
	if err != nil {
		return fmt.Errorf("exectrace: failed to compress trace: %w", err)
	}
	if _, err := r.w.Write(compressed); err != nil {
		return fmt.Errorf("exectrace: failed to write trace: %w", err)
	}
	return nil
}

// Reader decodes a trace previously written by a Recorder.
type Reader struct {
	comp *compression.Compressor
}

// NewReader prepares to decode a zstd-compressed trace.
func NewReader() (*Reader, error) {
	comp, err := compression.NewCompressor(compression.ZstdConfig(0))
	if err != nil {
		return nil, fmt.Errorf("exectrace: failed to create decompressor: %w", err)
	}
	return &Reader{comp: comp}, nil
}

// ReadAll reads the full compressed trace from r, decompresses it, and
// decodes every record.
func (rd *Reader) ReadAll(r io.Reader) ([]Record, error) {
	defer rd.comp.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("exectrace: failed to read trace: %w", err)
	}
	decompressed, err := rd.comp.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("exectrace: failed to decompress trace: %w", err)
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(decompressed))
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("exectrace: failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
