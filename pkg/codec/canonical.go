// Package codec implements the canonical, bit-exact byte encoding used for
// hashing and signing (§6.1 of the storage design) and the delta/signed-log
// framing built on top of it (§6.2, §6.3). All integers are little-endian,
// matching the wire format exactly so that signatures remain valid across
// re-implementations.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/cascadedb/cascade/pkg/types"
)

// EncodeString writes the canonical string encoding: a u32 length prefix
// followed by the raw UTF-8 bytes.
func EncodeString(buf []byte, s string) []byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(s)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, s...)
	return buf
}

// DecodeString reverses EncodeString, returning the string and the number
// of bytes consumed from buf.
func DecodeString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("codec: truncated string length prefix")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if n < 0 || len(buf) < 4+n {
		return "", 0, fmt.Errorf("codec: string length %d exceeds remaining %d bytes", n, len(buf)-4)
	}
	return string(buf[4 : 4+n]), 4 + n, nil
}

// EncodeObject appends the canonical encoding of o to buf per §6.1:
//
//	u64  message_id          // present iff evaluationMode
//	i64  version
//	u64  timestamp_us
//	i64  previous_version
//	i64  previous_version_by_key
//	u32  key_length
//	u8[] key_bytes
//	u64  blob_length
//	u8[] blob_bytes
func EncodeObject(buf []byte, o *types.Object, evaluationMode bool) []byte {
	var scratch [8]byte
	if evaluationMode {
		binary.LittleEndian.PutUint64(scratch[:], o.MessageID)
		buf = append(buf, scratch[:]...)
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(o.Version))
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint64(scratch[:], o.TimestampUs)
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint64(scratch[:], uint64(o.PreviousVersion))
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint64(scratch[:], uint64(o.PreviousVersionByKey))
	buf = append(buf, scratch[:]...)
	buf = EncodeString(buf, o.Key)
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(o.Blob)))
	buf = append(buf, scratch[:]...)
	buf = append(buf, o.Blob...)
	return buf
}

// DecodeObject reverses EncodeObject, returning the object and the number
// of bytes consumed.
func DecodeObject(buf []byte, evaluationMode bool) (*types.Object, int, error) {
	pos := 0
	need := func(n int) error {
		if len(buf)-pos < n {
			return fmt.Errorf("codec: truncated object, need %d bytes at offset %d", n, pos)
		}
		return nil
	}
	o := &types.Object{}
	if evaluationMode {
		if err := need(8); err != nil {
			return nil, 0, err
		}
		o.MessageID = binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
	}
	if err := need(8); err != nil {
		return nil, 0, err
	}
	o.Version = int64(binary.LittleEndian.Uint64(buf[pos:]))
	pos += 8
	if err := need(8); err != nil {
		return nil, 0, err
	}
	o.TimestampUs = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	if err := need(8); err != nil {
		return nil, 0, err
	}
	o.PreviousVersion = int64(binary.LittleEndian.Uint64(buf[pos:]))
	pos += 8
	if err := need(8); err != nil {
		return nil, 0, err
	}
	o.PreviousVersionByKey = int64(binary.LittleEndian.Uint64(buf[pos:]))
	pos += 8
	key, n, err := DecodeString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	o.Key = key
	pos += n
	if err := need(8); err != nil {
		return nil, 0, err
	}
	blobLen := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	if blobLen > uint64(len(buf)-pos) {
		return nil, 0, fmt.Errorf("codec: truncated object, blob length %d exceeds remaining %d bytes at offset %d", blobLen, len(buf)-pos, pos)
	}
	o.Blob = append([]byte(nil), buf[pos:pos+int(blobLen)]...)
	pos += int(blobLen)
	return o, pos, nil
}

// ObjectSize returns the exact number of bytes EncodeObject would write for
// o, without allocating.
func ObjectSize(o *types.Object, evaluationMode bool) int {
	n := 8 + 8 + 8 + 8 + 4 + len(o.Key) + 8 + len(o.Blob)
	if evaluationMode {
		n += 8
	}
	return n
}
