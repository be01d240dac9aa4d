package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// persistence implements the §6.5 on-disk layout for one persistent shard:
// delta.log is an append-only concatenation of framed deltas
// (u64 version, u64 length, bytes); index is a bbolt database mapping
// version to its byte offset within delta.log. appendDelta keeps the index
// up to date, but nothing in this package reads it back: historical reads
// use the shard's in-memory history, and recovery scans delta.log.
type persistence struct {
	mu  sync.Mutex
	dir string

	logFile *os.File
	offset  int64

	index *bolt.DB

	persistedVer int64
}

var bucketOffsets = []byte("offsets")

func openPersistence(dir string) (*persistence, error) {
	logPath := filepath.Join(dir, "delta.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open delta.log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	idx, err := bolt.Open(filepath.Join(dir, "index"), 0o600, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	if err := idx.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOffsets)
		return err
	}); err != nil {
		f.Close()
		idx.Close()
		return nil, err
	}

	return &persistence{
		dir:          dir,
		logFile:      f,
		offset:       info.Size(),
		index:        idx,
		persistedVer: -1,
	}, nil
}

// appendDelta frames and fsyncs one delta, then records its offset in the
// index.
func (p *persistence) appendDelta(version int64, bytes []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var header [16]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(version))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(bytes)))

	entryOffset := p.offset
	if _, err := p.logFile.Write(header[:]); err != nil {
		return fmt.Errorf("store: write delta header: %w", err)
	}
	if _, err := p.logFile.Write(bytes); err != nil {
		return fmt.Errorf("store: write delta bytes: %w", err)
	}
	if err := p.logFile.Sync(); err != nil {
		return fmt.Errorf("store: fsync delta.log: %w", err)
	}
	p.offset += int64(len(header)) + int64(len(bytes))

	if err := p.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], uint64(version))
		var val [8]byte
		binary.LittleEndian.PutUint64(val[:], uint64(entryOffset))
		return b.Put(key[:], val[:])
	}); err != nil {
		return fmt.Errorf("store: update index: %w", err)
	}

	p.persistedVer = version
	return nil
}

func (p *persistence) persistedVersion() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistedVer
}

// replay reads delta.log front to back, reconstructing the full ordered
// history for recoverFromDisk. Testable property 4 (§8): after recovery,
// the current map equals the fold of all deltas in file order — this is
// exactly what replay + sequential ApplyDelta produces.
func (p *persistence) replay() ([]deltaRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.logFile.Seek(0, 0); err != nil {
		return nil, err
	}
	var records []deltaRecord
	header := make([]byte, 16)
	for {
		_, err := readFull(p.logFile, header)
		if err != nil {
			break
		}
		version := int64(binary.LittleEndian.Uint64(header[0:8]))
		length := binary.LittleEndian.Uint64(header[8:16])
		bytes := make([]byte, length)
		if _, err := readFull(p.logFile, bytes); err != nil {
			return nil, fmt.Errorf("store: truncated delta.log at version %d: %w", version, err)
		}
		records = append(records, deltaRecord{version: version, bytes: bytes})
	}
	if _, err := p.logFile.Seek(0, 2); err != nil {
		return nil, err
	}
	return records, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("store: unexpected EOF")
		}
	}
	return total, nil
}

func (p *persistence) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.index.Close(); err != nil {
		return err
	}
	return p.logFile.Close()
}
