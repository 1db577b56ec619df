package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
)

// Sink is a write-once destination for audit entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Entry) error
}

// FileSink appends one JSON document per line to a file opened in append
// mode. Existing lines are never rewritten.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return s.file.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadFile loads every entry of a FileSink log, oldest first.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}

// LastEntry returns the final entry of a FileSink log. A missing or empty
// log reports ok=false.
func LastEntry(path string) (last Entry, ok bool, err error) {
	entries, err := ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// PublisherSink forwards entries to an event publisher, keyed by sender so
// one sender's entries stay ordered on the broker.
type PublisherSink struct {
	publisher interfaces.EventPublisher
}

func NewPublisherSink(p interfaces.EventPublisher) *PublisherSink {
	return &PublisherSink{publisher: p}
}

func (s *PublisherSink) Name() string { return "publisher" }

func (s *PublisherSink) Write(ctx context.Context, e Entry) error {
	return s.publisher.Publish(ctx, e.Event.SenderID, e)
}
