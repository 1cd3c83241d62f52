package diffview

import (
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scheme is the URI scheme of files held by a Store.
const Scheme = "temp"

var (
	// ErrNotFound is returned for ids the store does not know
	ErrNotFound = errors.New("diffview: file not found")
	// ErrReadOnly is returned when writing a read-only file
	ErrReadOnly = errors.New("diffview: file is read-only")
)

// FileInfo describes a stored file.
type FileInfo struct {
	ID       string
	Size     int
	Created  time.Time
	Modified time.Time
	ReadOnly bool
}

type virtualFile struct {
	info FileInfo
	data []byte
}

// Store is an in-memory file system keyed by id. Player writes both sides of
// every diff into it so viewers can fetch them by URI.
type Store struct {
	mu    sync.RWMutex
	files map[string]*virtualFile
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]*virtualFile)}
}

// Put stores content under id, replacing any previous file with that id
// regardless of its permissions.
func (s *Store) Put(id string, content []byte, readOnly bool) FileInfo {
	now := time.Now()
	f := &virtualFile{
		info: FileInfo{
			ID:       id,
			Size:     len(content),
			Created:  now,
			Modified: now,
			ReadOnly: readOnly,
		},
		data: append([]byte(nil), content...),
	}

	s.mu.Lock()
	s.files[id] = f
	s.mu.Unlock()
	return f.info
}

// Write updates the content of id, creating a writable file if it does not
// exist yet.
func (s *Store) Write(id string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		now := time.Now()
		s.files[id] = &virtualFile{
			info: FileInfo{ID: id, Size: len(content), Created: now, Modified: now},
			data: append([]byte(nil), content...),
		}
		return nil
	}
	if f.info.ReadOnly {
		return ErrReadOnly
	}
	f.data = append(f.data[:0], content...)
	f.info.Size = len(content)
	f.info.Modified = time.Now()
	return nil
}

// Read returns a copy of the content of id.
func (s *Store) Read(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), f.data...), nil
}

// Stat returns the file info of id.
func (s *Store) Stat(id string) (FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return FileInfo{}, ErrNotFound
	}
	return f.info, nil
}

// Delete removes id. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.files, id)
	s.mu.Unlock()
}

// IDs returns the stored ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// URI returns the temp:/ URI of id.
func URI(id string) string {
	return Scheme + ":/" + id
}

// IDFromURI reverses URI. Percent-encoded ids are decoded.
func IDFromURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, Scheme+":/")
	if !ok || rest == "" {
		return "", false
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return id, true
}
