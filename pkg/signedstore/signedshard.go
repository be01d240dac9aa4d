package signedstore

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/codec"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
)

// SignedShard layers the signed-chain extension over a persistent data
// shard: every committed data object is hashed, the hash is committed to a
// parallel signature pool, and the signature chains to the previous entry.
type SignedShard struct {
	data    *store.Shard
	sigPool *store.Shard
	chain   *chainLog

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	evaluationMode bool

	mu        sync.Mutex
	dataToSig map[string]map[int64]int64 // key -> data version -> sig-pool version

	pending chan *types.Object
	done    chan struct{}
}

// NewSignedShard wires a data shard and its signature-pool shard together.
// priv signs; its corresponding public key is handed to clients out of
// band for verification.
func NewSignedShard(data, sigPool *store.Shard, dataDir string, evaluationMode bool, priv ed25519.PrivateKey) (*SignedShard, error) {
	chain, err := openChainLog(dataDir, evaluationMode)
	if err != nil {
		return nil, err
	}
	s := &SignedShard{
		data:           data,
		sigPool:        sigPool,
		chain:          chain,
		priv:           priv,
		pub:            priv.Public().(ed25519.PublicKey),
		evaluationMode: evaluationMode,
		dataToSig:      make(map[string]map[int64]int64),
		pending:        make(chan *types.Object, 4096),
		done:           make(chan struct{}),
	}
	data.AddObserver(s)
	go s.signLoop()
	return s, nil
}

// PublicKey returns the verification key for this shard's chain.
func (s *SignedShard) PublicKey() ed25519.PublicKey {
	return s.pub
}

// OnCommit implements store.CommitObserver. Every committed object is
// handed to a background signer over a buffered channel, preserving
// per-shard commit order since there is exactly one reader; when the
// channel is full the send blocks the data shard's ordered-delivery thread
// until the signer catches up. Trigger_put objects (Version ==
// InvalidVersion) were never committed and are not signed.
func (s *SignedShard) OnCommit(_ *store.Shard, pathname string, obj *types.Object) {
	if obj.Version == types.InvalidVersion {
		return
	}
	select {
	case s.pending <- obj:
	default:
		log.WithField("pool", pathname).Warn().Msg("signedstore: signer queue full, blocking ordered delivery to avoid dropping a commit")
		s.pending <- obj
	}
}

func (s *SignedShard) signLoop() {
	ctx := context.Background()
	for {
		select {
		case obj := <-s.pending:
			if err := s.signAndStore(ctx, obj); err != nil {
				log.WithField("key", obj.Key).Error().Err(err).Msg("signedstore: sign commit")
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the background signer. Callers should stop routing writes
// to the data shard first.
func (s *SignedShard) Close() error {
	close(s.done)
	return s.chain.close()
}

func (s *SignedShard) signAndStore(ctx context.Context, obj *types.Object) error {
	canonical := codec.EncodeObject(nil, obj, s.evaluationMode)
	hash := sha256.Sum256(canonical)

	res, err := s.sigPool.Put(ctx, obj.Key, hash[:], types.InvalidVersion, types.InvalidVersion, 0)
	if err != nil {
		return fmt.Errorf("signedstore: put hash object: %w", err)
	}
	if res.Rejected {
		return fmt.Errorf("signedstore: signature pool rejected an internally-generated write for key %q", obj.Key)
	}

	hashObj, err := s.sigPool.Get(ctx, obj.Key, res.Version, false)
	if err != nil {
		return fmt.Errorf("signedstore: read back hash object: %w", err)
	}

	previousSignature, previousSignedVersion := s.chain.last()
	hashObjBytes := codec.EncodeObject(nil, hashObj, s.evaluationMode)
	signInput := append(append([]byte{}, hashObjBytes...), previousSignature...)
	signature := ed25519.Sign(s.priv, signInput)

	if err := s.chain.append(hashObj, signature, previousSignedVersion); err != nil {
		return err
	}
	metrics.SignaturesTotal.WithLabelValues(s.data.ShardID()).Inc()

	s.mu.Lock()
	byKey, ok := s.dataToSig[obj.Key]
	if !ok {
		byKey = make(map[int64]int64)
		s.dataToSig[obj.Key] = byKey
	}
	byKey[obj.Version] = hashObj.Version
	s.mu.Unlock()
	return nil
}

// GetSignature fetches the signature for the hash object corresponding to
// data version dataVersion of key.
func (s *SignedShard) GetSignature(key string, dataVersion int64) (signature []byte, previousSignedVersion int64, err error) {
	s.mu.Lock()
	byKey, ok := s.dataToSig[key]
	var sigVersion int64
	if ok {
		sigVersion, ok = byKey[dataVersion]
	}
	s.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("signedstore: no signature recorded for %s at version %d", key, dataVersion)
	}
	return s.GetSignatureByVersion(sigVersion)
}

// GetSignatureByVersion fetches a signature entry directly by signature-log
// version.
func (s *SignedShard) GetSignatureByVersion(sigVersion int64) ([]byte, int64, error) {
	sig, prevVer, ok := s.chain.at(sigVersion)
	if !ok {
		return nil, 0, fmt.Errorf("signedstore: no signature entry at version %d", sigVersion)
	}
	return sig, prevVer, nil
}

// HashObjectAt returns the hash object stored at signature-pool version
// sigVersion, used by clients performing verification.
func (s *SignedShard) HashObjectAt(sigVersion int64) (*types.Object, bool) {
	return s.chain.hashObjectAt(sigVersion)
}
