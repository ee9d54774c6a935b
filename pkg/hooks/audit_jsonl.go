package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// Recording must never block a turn, so writes go through a bounded
	// queue and a single background writer.
	auditQueueSize = 256

	// When the trail file grows past this the writer moves it aside and
	// starts a fresh one. One previous generation is kept.
	auditRotateBytes = 8 << 20
)

// JSONLAuditSink persists audit entries as JSONL, one line per entry. The
// file handle stays open across writes and is reopened only after an error
// or a rotation.
type JSONLAuditSink struct {
	path  string
	queue chan AuditEntry

	closeOnce sync.Once
	done      chan struct{}
}

// NewJSONLAuditSink places the trail under dir at audit/turns.jsonl.
func NewJSONLAuditSink(dir string) (*JSONLAuditSink, error) {
	return NewJSONLAuditSinkAt(filepath.Join(dir, "audit", "turns.jsonl"))
}

func NewJSONLAuditSinkAt(path string) (*JSONLAuditSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	sink := &JSONLAuditSink{
		path:  path,
		queue: make(chan AuditEntry, auditQueueSize),
		done:  make(chan struct{}),
	}
	go sink.writeLoop()
	return sink, nil
}

func (s *JSONLAuditSink) Path() string {
	return s.path
}

// Write enqueues the entry. When the queue is full the oldest pending entry
// is discarded in its favor, so a stalled disk costs history rather than
// latency.
func (s *JSONLAuditSink) Write(entry AuditEntry) error {
	for {
		select {
		case s.queue <- entry:
			return nil
		default:
		}
		select {
		case <-s.queue:
		default:
		}
	}
}

// Close stops the writer after draining whatever is already queued.
func (s *JSONLAuditSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *JSONLAuditSink) writeLoop() {
	defer close(s.done)

	var (
		f       *os.File
		written int64
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for entry := range s.queue {
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		line = append(line, '\n')

		if f == nil {
			if f, written, err = s.openTrail(); err != nil {
				continue
			}
		}
		if written+int64(len(line)) > auditRotateBytes {
			f.Close()
			f = nil
			os.Rename(s.path, s.path+".1")
			if f, written, err = s.openTrail(); err != nil {
				continue
			}
		}

		n, err := f.Write(line)
		written += int64(n)
		if err != nil {
			f.Close()
			f = nil
		}
	}
}

func (s *JSONLAuditSink) openTrail() (*os.File, int64, error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
