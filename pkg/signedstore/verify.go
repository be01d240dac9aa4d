package signedstore

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/types"
)

// Verify implements the client-side verification procedure of §4.3: given
// the public key, the committed data object, its paired hash object, the
// hash object's own signature, and the previous entry's signature bytes
// (empty at genesis), confirm the hash matches and the signature covers
// exactly the expected bytes.
func Verify(pub ed25519.PublicKey, data *types.Object, hashObject *types.Object, previousSignature []byte, signature []byte, evaluationMode bool) bool {
	canonicalData := codec.EncodeObject(nil, data, evaluationMode)
	sum := sha256.Sum256(canonicalData)
	if len(hashObject.Blob) != len(sum) {
		return false
	}
	for i := range sum {
		if hashObject.Blob[i] != sum[i] {
			return false
		}
	}

	canonicalHash := codec.EncodeObject(nil, hashObject, evaluationMode)
	signInput := append(append([]byte{}, canonicalHash...), previousSignature...)
	return ed25519.Verify(pub, signInput, signature)
}
