package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/proview/fileops/pkg/fserrors"
	"gitlab.com/tozd/go/errors"
)

// FileStore is the default journal backend: one JSONL file, opened with
// O_APPEND and fsynced per record. Simple enough to inspect with standard
// tools when recovering by hand.
type FileStore struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileStore opens (or creates) the journal log at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Errorf("creating journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Errorf("opening journal %s: %w", path, err)
	}
	return &FileStore{path: path, file: file}, nil
}

// Append implements Store. The record is flushed to stable storage before
// Append returns; any failure is wrapped as the fatal ErrJournalWrite.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Errorf("%w: encoding record: %s", fserrors.ErrJournalWrite, err.Error())
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(data); err != nil {
		return errors.Errorf("%w: %s", fserrors.ErrJournalWrite, err.Error())
	}
	if err := s.file.Sync(); err != nil {
		return errors.Errorf("%w: syncing: %s", fserrors.ErrJournalWrite, err.Error())
	}
	return nil
}

// RecordsFor implements Store. Records come back in append order.
func (s *FileStore) RecordsFor(ctx context.Context, planID string) ([]Record, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range all {
		if rec.PlanID == planID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Interrupted implements Store: plan IDs that have step records but no
// terminal marker, sorted for stable output.
func (s *FileStore) Interrupted(ctx context.Context) ([]string, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	finished := map[string]bool{}
	for _, rec := range all {
		if rec.Terminal() {
			finished[rec.PlanID] = true
		} else {
			seen[rec.PlanID] = true
		}
	}

	var out []string
	for id := range seen {
		if !finished[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Prune implements Store: rewrites the log without the given plan's
// records, atomically via temp file and rename.
func (s *FileStore) Prune(ctx context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.scanLocked()
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Errorf("creating temp journal: %w", err)
	}
	for _, rec := range all {
		if rec.PlanID == planID {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Errorf("encoding record: %w", err)
		}
		if _, err := tmp.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Errorf("writing temp journal: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Errorf("syncing temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Errorf("closing temp journal: %w", err)
	}

	if err := s.file.Close(); err != nil {
		return errors.Errorf("closing journal: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return errors.Errorf("replacing journal: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Errorf("reopening journal: %w", err)
	}
	s.file = file
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *FileStore) scan() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanLocked()
}

func (s *FileStore) scanLocked() ([]Record, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	var out []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line from a crash is expected; everything
			// before it is intact.
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Errorf("scanning journal: %w", err)
	}
	return out, nil
}
