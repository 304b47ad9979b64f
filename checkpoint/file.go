package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/pivotgo/internal/fs"
	"github.com/hupe1980/pivotgo/internal/hash"
)

const (
	checkpointFilePrefix = "checkpoint"
	currentFileName      = "CURRENT"
)

// fileEnvelope wraps the checkpoint payload with a CRC32C of the payload
// bytes. Rename atomicity protects against half-written files; the checksum
// catches bit rot and manual edits.
type fileEnvelope struct {
	Checkpoint json.RawMessage `json:"checkpoint"`
	CRC32C     uint32          `json:"crc32c"`
}

// FileStore persists checkpoints on the local file system using the
// CURRENT-pointer scheme: every Save writes a fresh versioned file
// (checkpoint-%06d.json) via temp file + rename + directory sync, then
// repoints CURRENT at it the same way. A crash between the two steps leaves
// CURRENT at the previous checkpoint, which is exactly the resume point the
// engine wants.
type FileStore struct {
	fs     fs.FileSystem
	dir    string
	keep   int
	saveMu sync.Mutex
}

// FileOptions configures a FileStore.
type FileOptions struct {
	// FS overrides the file system, e.g. for fault injection in tests.
	FS fs.FileSystem
	// Keep is the number of checkpoint files retained, including the current
	// one. Older files are pruned after a successful save. Minimum 1;
	// default 3.
	Keep int
}

// NewFileStore creates a FileStore rooted at dir, creating it if necessary.
func NewFileStore(dir string, optFns ...func(*FileOptions)) (*FileStore, error) {
	opts := FileOptions{FS: fs.Default, Keep: 3}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Keep < 1 {
		opts.Keep = 1
	}

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &FileStore{fs: opts.FS, dir: dir, keep: opts.Keep}, nil
}

// Load reads the checkpoint CURRENT points at.
func (s *FileStore) Load(_ context.Context) (*Checkpoint, error) {
	content, err := s.readFile(filepath.Join(s.dir, currentFileName))
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(string(content))
	data, err := s.readFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	if len(env.Checkpoint) == 0 {
		return nil, fmt.Errorf("decode checkpoint %s: empty payload", name)
	}
	if got := hash.CRC32C(env.Checkpoint); got != env.CRC32C {
		return nil, fmt.Errorf("checkpoint %s: checksum mismatch (stored %08x, computed %08x)", name, env.CRC32C, got)
	}

	var cp Checkpoint
	if err := json.Unmarshal(env.Checkpoint, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return &cp, nil
}

// Save writes the checkpoint as a new versioned file and repoints CURRENT.
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileEnvelope{
		Checkpoint: payload,
		CRC32C:     hash.CRC32C(payload),
	}, "", "  ")
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s-%06d.json", checkpointFilePrefix, cp.Seq)
	if err := s.writeAtomic(filename, data); err != nil {
		return err
	}
	if err := s.writeAtomic(currentFileName, []byte(filename)); err != nil {
		return err
	}

	s.prune(filename)
	return nil
}

func (s *FileStore) readFile(path string) ([]byte, error) {
	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeAtomic writes name via temp file, fsync, rename, and directory sync.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}

	return s.syncDir()
}

// prune removes checkpoint files beyond the retention count. Best-effort:
// a prune failure never fails the save that triggered it.
func (s *FileStore) prune(current string) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, checkpointFilePrefix+"-") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= s.keep {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		if name == current {
			continue
		}
		_ = s.fs.Remove(filepath.Join(s.dir, name))
	}
}

func (s *FileStore) syncDir() error {
	f, err := s.fs.OpenFile(s.dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
