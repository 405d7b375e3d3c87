// ============================================================================
// Transition Journal - append-only record of job status transitions
// ============================================================================
//
// Package: internal/journal
// Purpose: Persist every status transition the engine performs (seq, job id,
// from -> to, reason) as one JSON line with a CRC32 checksum.
//
// The journal is observability infrastructure, not the source of truth: job
// state lives in the store. Replay exists for post-mortem inspection and
// tooling, and tolerates a torn final entry from a crash mid-append.
//
// ============================================================================

package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/artisedge/importer/pkg/types"
)

// ErrCorruptedEntry marks an entry whose checksum does not match. Replay
// stops at the first corrupted entry rather than trusting what follows.
var ErrCorruptedEntry = errors.New("journal entry is corrupted")

// Event is one recorded status transition.
type Event struct {
	Seq       uint64          `json:"seq"`
	JobID     types.JobID     `json:"job_id"`
	From      types.JobStatus `json:"from"`
	To        types.JobStatus `json:"to"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Checksum  uint32          `json:"checksum"`
}

// EventHandler processes one event during Replay.
type EventHandler func(Event) error

// Journal is an append-only transition log backed by a single file.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	path    string
	seq     uint64
}

// Open creates or opens the journal at path, continuing the sequence from
// the last valid entry.
func Open(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{
		file:    file,
		encoder: json.NewEncoder(file),
		path:    path,
	}

	// Continue from the last readable entry; a torn tail resets nothing.
	_ = replayFile(path, func(ev Event) error {
		j.seq = ev.Seq
		return nil
	})

	return j, nil
}

// Record appends one transition and syncs it to disk before returning.
// Transitions are low-rate (per status change, not per item), so the
// per-append fsync costs nothing measurable. The checksum covers the fields
// that are stable across replays (not the timestamp).
func (j *Journal) Record(jobID types.JobID, from, to types.JobStatus, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	ev := Event{
		Seq:       j.seq,
		JobID:     jobID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}
	ev.Checksum = checksum(ev)

	if err := j.encoder.Encode(ev); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Replay streams every valid entry in order. It stops with ErrCorruptedEntry
// at the first checksum mismatch; a torn (undecodable) final line is treated
// as the end of the journal.
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return replayFile(j.path, handler)
}

// Rotate truncates the journal. Called after the entries have been archived
// or are no longer needed.
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return err
	}
	j.seq = 0
	return nil
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

func replayFile(path string, handler EventHandler) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Torn tail from a crash mid-append: stop replaying.
			return nil
		}
		if ev.Checksum != checksum(ev) {
			return fmt.Errorf("%w: seq %d", ErrCorruptedEntry, ev.Seq)
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func checksum(ev Event) uint32 {
	data := fmt.Sprintf("%d|%s|%s|%s|%s", ev.Seq, ev.JobID, ev.From, ev.To, ev.Reason)
	return crc32.ChecksumIEEE([]byte(data))
}
