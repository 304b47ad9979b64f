// Package hash provides hardware-accelerated hashing for data integrity.
//
// Checkpoint files and blob payloads carry a CRC32-Castagnoli (CRC32C)
// checksum. Rename atomicity protects a checkpoint against partial writes;
// the checksum catches bit rot, torn blocks, and manual edits, so a
// corrupted checkpoint fails loudly instead of resuming the indexer from
// garbage.
//
// CRC32C is hardware-accelerated on x86 (SSE4.2) and ARM (CRC extension)
// and is the same polynomial used by iSCSI, RocksDB, and LevelDB. It is not
// cryptographically secure; it only detects accidental corruption.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
