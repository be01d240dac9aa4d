package signedstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestChainLogAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	chain, err := openChainLog(dir, false)
	require.NoError(t, err)

	h1 := &types.Object{Key: "/sig/a", Blob: []byte("hash1"), Version: 0, PreviousVersion: types.InvalidVersion, PreviousVersionByKey: types.InvalidVersion}
	require.NoError(t, chain.append(h1, []byte("sig1"), types.InvalidVersion))

	h2 := &types.Object{Key: "/sig/b", Blob: []byte("hash2"), Version: 1, PreviousVersion: 0, PreviousVersionByKey: types.InvalidVersion}
	require.NoError(t, chain.append(h2, []byte("sig2"), 0))

	require.NoError(t, chain.close())

	reopened, err := openChainLog(dir, false)
	require.NoError(t, err)
	sig, prevVer, ok := reopened.at(1)
	require.True(t, ok)
	require.Equal(t, []byte("sig2"), sig)
	require.Equal(t, int64(0), prevVer)

	lastSig, lastVer := reopened.last()
	require.Equal(t, []byte("sig2"), lastSig)
	require.Equal(t, int64(1), lastVer)
}

func TestVerifyChainAcrossKeys(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dataA := &types.Object{Key: "/sig/a", Blob: []byte("x"), Version: 0, PreviousVersion: types.InvalidVersion, PreviousVersionByKey: types.InvalidVersion}
	canonA := codec.EncodeObject(nil, dataA, false)
	sumA := sha256.Sum256(canonA)
	hashObjA := &types.Object{Key: "/sig/a", Blob: sumA[:], Version: 0, PreviousVersion: types.InvalidVersion, PreviousVersionByKey: types.InvalidVersion}
	sigA := ed25519.Sign(priv, codec.EncodeObject(nil, hashObjA, false))

	dataB := &types.Object{Key: "/sig/b", Blob: []byte("y"), Version: 1, PreviousVersion: 0, PreviousVersionByKey: types.InvalidVersion}
	canonB := codec.EncodeObject(nil, dataB, false)
	sumB := sha256.Sum256(canonB)
	hashObjB := &types.Object{Key: "/sig/b", Blob: sumB[:], Version: 1, PreviousVersion: 0, PreviousVersionByKey: types.InvalidVersion}
	sigBInput := append(append([]byte{}, codec.EncodeObject(nil, hashObjB, false)...), sigA...)
	sigB := ed25519.Sign(priv, sigBInput)

	require.True(t, Verify(pub, dataA, hashObjA, nil, sigA, false))
	require.True(t, Verify(pub, dataB, hashObjB, sigA, sigB, false))

	// tampering with /sig/a's signature breaks /sig/b's verification, since
	// it is included in /sig/b's signed input.
	require.False(t, Verify(pub, dataB, hashObjB, []byte("corrupted"), sigB, false))
}
