package signedstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/types"
)

// entry is one §6.3 signed log entry, kept in memory for fast lookup and
// mirrored to signature.log for recovery.
type entry struct {
	hashObject            *types.Object
	signature             []byte
	previousSignedVersion int64
}

// chainLog persists the signature chain as signature.log:
//
//	<canonical hash_object>
//	u32 signature_length
//	u8[] signature
//	i64 previous_signed_version
//
// It is append-only and has exactly one writer (the signer goroutine), so
// no locking is required beyond protecting concurrent readers.
type chainLog struct {
	mu   sync.RWMutex
	file *os.File

	entries    []entry
	byVersion  map[int64]int // hash_object.Version -> index into entries
	lastSig    []byte
	lastSigVer int64
	evaluation bool
}

func openChainLog(dir string, evaluationMode bool) (*chainLog, error) {
	f, err := os.OpenFile(filepath.Join(dir, "signature.log"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("signedstore: open signature.log: %w", err)
	}
	c := &chainLog{
		file:       f,
		byVersion:  make(map[int64]int),
		lastSigVer: types.InvalidVersion,
		evaluation: evaluationMode,
	}
	if err := c.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *chainLog) replay() error {
	if _, err := c.file.Seek(0, 0); err != nil {
		return err
	}
	for {
		hashObj, n, err := decodeObjectFromFile(c.file, c.evaluation)
		if err != nil {
			break
		}
		_ = n
		var lenBuf [4]byte
		if _, err := readExact(c.file, lenBuf[:]); err != nil {
			return fmt.Errorf("signedstore: truncated signature length: %w", err)
		}
		sigLen := binary.LittleEndian.Uint32(lenBuf[:])
		sig := make([]byte, sigLen)
		if _, err := readExact(c.file, sig); err != nil {
			return fmt.Errorf("signedstore: truncated signature bytes: %w", err)
		}
		var prevBuf [8]byte
		if _, err := readExact(c.file, prevBuf[:]); err != nil {
			return fmt.Errorf("signedstore: truncated previous_signed_version: %w", err)
		}
		prevVer := int64(binary.LittleEndian.Uint64(prevBuf[:]))

		c.byVersion[hashObj.Version] = len(c.entries)
		c.entries = append(c.entries, entry{hashObject: hashObj, signature: sig, previousSignedVersion: prevVer})
		c.lastSig = sig
		c.lastSigVer = hashObj.Version
	}
	if _, err := c.file.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

// append writes a new entry and updates the in-memory chain tail.
func (c *chainLog) append(hashObject *types.Object, signature []byte, previousSignedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf []byte
	buf = codec.EncodeObject(buf, hashObject, c.evaluation)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(signature)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, signature...)
	var prevBuf [8]byte
	binary.LittleEndian.PutUint64(prevBuf[:], uint64(previousSignedVersion))
	buf = append(buf, prevBuf[:]...)

	if _, err := c.file.Write(buf); err != nil {
		return fmt.Errorf("signedstore: write signature.log: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("signedstore: fsync signature.log: %w", err)
	}

	c.byVersion[hashObject.Version] = len(c.entries)
	c.entries = append(c.entries, entry{hashObject: hashObject, signature: signature, previousSignedVersion: previousSignedVersion})
	c.lastSig = signature
	c.lastSigVer = hashObject.Version
	return nil
}

// last returns the most recent entry's signature and its own version, or
// (nil, InvalidVersion) at genesis.
func (c *chainLog) last() ([]byte, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSig, c.lastSigVer
}

// at returns the (signature, previous_signed_version) pair for the
// signature-pool version sigVersion.
func (c *chainLog) at(sigVersion int64) ([]byte, int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byVersion[sigVersion]
	if !ok {
		return nil, 0, false
	}
	e := c.entries[idx]
	return e.signature, e.previousSignedVersion, true
}

// hashObjectAt returns the hash object stored alongside sigVersion's entry.
func (c *chainLog) hashObjectAt(sigVersion int64) (*types.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byVersion[sigVersion]
	if !ok {
		return nil, false
	}
	return c.entries[idx].hashObject, true
}

func (c *chainLog) close() error {
	return c.file.Close()
}

func readExact(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("signedstore: unexpected EOF")
		}
	}
	return total, nil
}

// decodeObjectFromFile decodes one canonical object directly from the
// file's current read position, since §6.1 objects are variable-length
// and chain.replay cannot know the size up front without a length prefix
// of its own; it reads field by field in the same order EncodeObject wrote
// them.
func decodeObjectFromFile(f *os.File, evaluationMode bool) (*types.Object, int, error) {
	obj := &types.Object{}
	read8 := func() (uint64, error) {
		var b [8]byte
		if _, err := readExact(f, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}

	if evaluationMode {
		v, err := read8()
		if err != nil {
			return nil, 0, err
		}
		obj.MessageID = v
	}
	v, err := read8()
	if err != nil {
		return nil, 0, err
	}
	obj.Version = int64(v)

	v, err = read8()
	if err != nil {
		return nil, 0, err
	}
	obj.TimestampUs = v

	v, err = read8()
	if err != nil {
		return nil, 0, err
	}
	obj.PreviousVersion = int64(v)

	v, err = read8()
	if err != nil {
		return nil, 0, err
	}
	obj.PreviousVersionByKey = int64(v)

	var lenBuf [4]byte
	if _, err := readExact(f, lenBuf[:]); err != nil {
		return nil, 0, err
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[:])
	keyBytes := make([]byte, keyLen)
	if _, err := readExact(f, keyBytes); err != nil {
		return nil, 0, err
	}
	obj.Key = string(keyBytes)

	blobLen, err := read8()
	if err != nil {
		return nil, 0, err
	}
	obj.Blob = make([]byte, blobLen)
	if _, err := readExact(f, obj.Blob); err != nil {
		return nil, 0, err
	}
	return obj, 0, nil
}
