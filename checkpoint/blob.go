package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/pivotgo/blobstore"
	"github.com/hupe1980/pivotgo/codec"
	"github.com/hupe1980/pivotgo/resource"
)

// Blob layout:
//
//	[magic "PGCP" 4B][format version 1B][compression 1B]
//	[codec name length 1B][codec name][payload block]
//
// The header makes blobs self-describing: Load decodes with whatever codec
// and compression the blob was written with, independent of the store's
// current configuration.
var blobMagic = [4]byte{'P', 'G', 'C', 'P'}

const blobFormatVersion = 1

// BlobStore persists checkpoints as versioned blobs in a blobstore.Store
// (S3, MinIO, local directory). Each Save writes a new key under the prefix;
// Load picks the highest one. Older blobs beyond the retention count are
// pruned after a successful save.
//
// The versioned-key scheme assumes a single writer, which the indexer's
// single-run-at-a-time invariant provides.
type BlobStore struct {
	store       blobstore.Store
	prefix      string
	codec       codec.Codec
	compression Compression
	keep        int
	resources   *resource.Controller
	saveMu      sync.Mutex
}

// BlobOptions configures a BlobStore.
type BlobOptions struct {
	// Prefix namespaces checkpoint blobs within the store. Default "checkpoints/".
	Prefix string
	// Codec encodes checkpoint payloads. Default codec.Default.
	Codec codec.Codec
	// Compression for payloads. Default CompressionZSTD.
	Compression Compression
	// Keep is the number of checkpoint blobs retained. Minimum 1; default 3.
	Keep int
	// Resources, when set, rate-limits checkpoint blob traffic against the
	// controller's IO budget so background persistence cannot starve
	// foreground search and write traffic.
	Resources *resource.Controller
}

// NewBlobStore creates a checkpoint store over the given blob store.
func NewBlobStore(store blobstore.Store, optFns ...func(*BlobOptions)) *BlobStore {
	opts := BlobOptions{
		Prefix:      "checkpoints/",
		Codec:       codec.Default,
		Compression: CompressionZSTD,
		Keep:        3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Keep < 1 {
		opts.Keep = 1
	}

	return &BlobStore{
		store:       store,
		prefix:      opts.Prefix,
		codec:       opts.Codec,
		compression: opts.Compression,
		keep:        opts.Keep,
		resources:   opts.Resources,
	}
}

// Load reads the checkpoint with the highest sequence number.
func (s *BlobStore) Load(ctx context.Context) (*Checkpoint, error) {
	names, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoCheckpoint
	}

	// List is sorted and keys zero-pad the sequence number, so the last
	// name is the newest checkpoint.
	data, err := blobstore.ReadAll(ctx, s.store, names[len(names)-1])
	if err != nil {
		return nil, err
	}

	// The size is known only after the read; charging afterwards still
	// bounds the aggregate throughput.
	if err := s.resources.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}

	return decodeBlob(data)
}

// Save encodes the checkpoint and writes it as a new versioned blob.
func (s *BlobStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := s.encodeBlob(cp)
	if err != nil {
		return err
	}

	if err := s.resources.AcquireIO(ctx, len(data)); err != nil {
		return err
	}

	if err := s.store.Put(ctx, s.blobName(cp.Seq), data); err != nil {
		return err
	}

	s.prune(ctx)
	return nil
}

// blobName zero-pads the sequence so lexicographic key order matches
// numeric order for the full uint64 range.
func (s *BlobStore) blobName(seq uint64) string {
	return fmt.Sprintf("%s%020d.ckpt", s.prefix, seq)
}

func (s *BlobStore) encodeBlob(cp *Checkpoint) ([]byte, error) {
	payload, err := s.codec.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	block, err := compressPayload(payload, s.compression)
	if err != nil {
		return nil, err
	}

	name := s.codec.Name()
	if len(name) > 255 {
		return nil, errors.New("codec name too long")
	}

	buf := make([]byte, 0, 7+len(name)+len(block))
	buf = append(buf, blobMagic[:]...)
	buf = append(buf, blobFormatVersion, byte(s.compression), byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, block...)
	return buf, nil
}

func decodeBlob(data []byte) (*Checkpoint, error) {
	if len(data) < 7 || [4]byte(data[:4]) != blobMagic {
		return nil, errors.New("not a checkpoint blob")
	}
	if data[4] != blobFormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint blob version %d", data[4])
	}

	compression := Compression(data[5])
	nameLen := int(data[6])
	if len(data) < 7+nameLen+blockHeaderSize {
		return nil, errors.New("checkpoint blob truncated")
	}

	name := string(data[7 : 7+nameLen])
	c, ok := codec.ByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown checkpoint codec %q", name)
	}

	payload, err := decompressPayload(data[7+nameLen:], compression)
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := c.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// prune deletes checkpoint blobs beyond the retention count. Best-effort.
func (s *BlobStore) prune(ctx context.Context) {
	names, err := s.store.List(ctx, s.prefix)
	if err != nil || len(names) <= s.keep {
		return
	}
	for _, name := range names[:len(names)-s.keep] {
		_ = s.store.Delete(ctx, name)
	}
}
