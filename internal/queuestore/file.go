package queuestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sungwon/flowgate/internal/queue"
)

const itemExt = ".item"

// FileBackend stores each queue in its own directory with one file per
// item. File names carry a signed sequence number that orders the queue.
type FileBackend struct {
	basePath string
}

// NewFileBackend creates a FileBackend at the given base path.
// It creates the directory if it does not exist.
func NewFileBackend(basePath string) (*FileBackend, error) {
	if basePath == "" {
		return nil, errors.New("queuestore: file backend requires a path")
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("queuestore: create base directory: %w", err)
	}
	return &FileBackend{basePath: basePath}, nil
}

// Open loads the sequence index of the named queue's directory.
func (b *FileBackend) Open(_ context.Context, name string) (queue.Storage, error) {
	dir := filepath.Join(b.basePath, url.PathEscape(name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("queuestore: create queue directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("queuestore: read queue directory: %w", err)
	}

	s := &fileStorage{dir: dir}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), itemExt) {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(e.Name(), itemExt), 10, 64)
		if err != nil {
			continue
		}
		s.seqs = append(s.seqs, seq)
	}
	slices.Sort(s.seqs)
	return s, nil
}

// Ping checks that the base directory is reachable.
func (b *FileBackend) Ping(context.Context) error {
	if _, err := os.Stat(b.basePath); err != nil {
		return fmt.Errorf("queuestore: stat base directory: %w", err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }

// fileStorage keeps the sorted sequence numbers of the files in dir.
type fileStorage struct {
	dir  string
	seqs []int64
}

func (s *fileStorage) path(seq int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(seq, 10)+itemExt)
}

// write stores item under seq using a temp file and rename.
func (s *fileStorage) write(seq int64, item queue.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queuestore: marshal item: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("queuestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("queuestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queuestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(seq)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queuestore: rename temp file: %w", err)
	}
	return nil
}

func (s *fileStorage) read(seq int64) (queue.Item, error) {
	data, err := os.ReadFile(s.path(seq))
	if err != nil {
		return queue.Item{}, fmt.Errorf("queuestore: read item: %w", err)
	}
	var item queue.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return queue.Item{}, fmt.Errorf("queuestore: unmarshal item: %w", err)
	}
	return item, nil
}

func (s *fileStorage) PushTail(_ context.Context, items ...queue.Item) error {
	for _, item := range items {
		var seq int64
		if n := len(s.seqs); n > 0 {
			seq = s.seqs[n-1] + 1
		}
		if err := s.write(seq, item); err != nil {
			return err
		}
		s.seqs = append(s.seqs, seq)
	}
	return nil
}

func (s *fileStorage) PushHead(_ context.Context, items ...queue.Item) error {
	for i := len(items) - 1; i >= 0; i-- {
		var seq int64
		if len(s.seqs) > 0 {
			seq = s.seqs[0] - 1
		}
		if err := s.write(seq, items[i]); err != nil {
			return err
		}
		s.seqs = slices.Insert(s.seqs, 0, seq)
	}
	return nil
}

func (s *fileStorage) PopHead(ctx context.Context) (queue.Item, bool, error) {
	item, ok, err := s.PeekHead(ctx)
	if err != nil || !ok {
		return item, ok, err
	}
	if err := os.Remove(s.path(s.seqs[0])); err != nil && !errors.Is(err, os.ErrNotExist) {
		return queue.Item{}, false, fmt.Errorf("queuestore: remove item: %w", err)
	}
	s.seqs = s.seqs[1:]
	return item, true, nil
}

func (s *fileStorage) PeekHead(context.Context) (queue.Item, bool, error) {
	if len(s.seqs) == 0 {
		return queue.Item{}, false, nil
	}
	item, err := s.read(s.seqs[0])
	if err != nil {
		return queue.Item{}, false, err
	}
	return item, true, nil
}

func (s *fileStorage) Len(context.Context) (int, error) {
	return len(s.seqs), nil
}

func (s *fileStorage) Clear(context.Context) error {
	for _, seq := range s.seqs {
		if err := os.Remove(s.path(seq)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("queuestore: remove item: %w", err)
		}
	}
	s.seqs = nil
	return nil
}

func (s *fileStorage) Drop(context.Context) error {
	s.seqs = nil
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("queuestore: remove queue directory: %w", err)
	}
	return nil
}
