package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// QueryLogFile appends queries to a file as JSON lines, one domain.QueryLog
// per line, in the same shape GET /logs returns.
type QueryLogFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenQueryLogFile opens path for appending, creating it and its directory.
func OpenQueryLogFile(path string) (*QueryLogFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create query log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}
	return &QueryLogFile{path: path, f: f}, nil
}

func (q *QueryLogFile) Path() string { return q.path }

// Append writes one line with a single write call.
func (q *QueryLogFile) Append(e domain.QueryLog) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.f == nil {
		return os.ErrClosed
	}
	_, err = q.f.Write(append(b, '\n'))
	return err
}

// Truncate empties the file. Later appends start at offset zero.
func (q *QueryLogFile) Truncate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.f == nil {
		return os.ErrClosed
	}
	return q.f.Truncate(0)
}

func (q *QueryLogFile) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.f == nil {
		return nil
	}
	err := q.f.Close()
	q.f = nil
	return err
}
