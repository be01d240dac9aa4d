package rpc

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/cascadedb/cascade/pkg/signedstore"
	"github.com/cascadedb/cascade/pkg/store"
)

// CascadeServer implements Service over a fixed set of locally-hosted
// shards. pkg/client resolves which shard a call targets (via
// pkg/pooldir) before dialing, so the server only ever needs a shard ID
// lookup.
type CascadeServer struct {
	shards    map[string]*store.Shard
	signed    map[string]*signedstore.SignedShard
	directory *pooldir.Directory
}

// NewCascadeServer wires a server over the given shards and their signed
// counterparts (a shard ID present in signed gets its GetSignature calls
// served; a plain data/volatile shard does not need an entry).
func NewCascadeServer(shards map[string]*store.Shard, signed map[string]*signedstore.SignedShard, directory *pooldir.Directory) *CascadeServer {
	return &CascadeServer{shards: shards, signed: signed, directory: directory}
}

func (s *CascadeServer) shard(id string) (*store.Shard, error) {
	sh, ok := s.shards[id]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown shard %q", id)
	}
	return sh, nil
}

func (s *CascadeServer) signedShard(id string) (*signedstore.SignedShard, error) {
	sh, ok := s.signed[id]
	if !ok {
		return nil, fmt.Errorf("rpc: shard %q is not a signed shard", id)
	}
	return sh, nil
}

func track(method string) func(err *error) {
	timer := metrics.NewTimer()
	return func(err *error) {
		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)
		status := "ok"
		if *err != nil {
			status = "error"
		}
		metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	}
}

func (s *CascadeServer) Put(ctx context.Context, req *PutRequest) (resp *PutResponse, err error) {
	defer track("Put")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	res, err := sh.Put(ctx, req.Key, req.Blob, req.PreviousVersion, req.PreviousVersionByKey, req.MessageID)
	if err != nil {
		return nil, err
	}
	return &PutResponse{Version: res.Version, TimestampUs: res.TimestampUs, Rejected: res.Rejected}, nil
}

func (s *CascadeServer) PutAndForget(ctx context.Context, req *PutRequest) (resp *Empty, err error) {
	defer track("PutAndForget")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	if err := sh.PutAndForget(req.Key, req.Blob, req.PreviousVersion, req.PreviousVersionByKey, req.MessageID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *CascadeServer) TriggerPut(ctx context.Context, req *TriggerPutRequest) (resp *Empty, err error) {
	defer track("TriggerPut")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	sh.TriggerPut(req.Key, req.Blob, req.MessageID)
	return &Empty{}, nil
}

func (s *CascadeServer) Remove(ctx context.Context, req *RemoveRequest) (resp *PutResponse, err error) {
	defer track("Remove")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	res, err := sh.Remove(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return &PutResponse{Version: res.Version, TimestampUs: res.TimestampUs, Rejected: res.Rejected}, nil
}

func (s *CascadeServer) Get(ctx context.Context, req *GetRequest) (resp *ObjectResponse, err error) {
	defer track("Get")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	obj, err := sh.Get(ctx, req.Key, req.Version, req.Stable)
	if err != nil {
		return nil, err
	}
	return &ObjectResponse{Object: obj}, nil
}

func (s *CascadeServer) MultiGet(ctx context.Context, req *MultiGetRequest) (resp *ObjectResponse, err error) {
	defer track("MultiGet")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	obj, err := sh.MultiGet(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return &ObjectResponse{Object: obj}, nil
}

func (s *CascadeServer) GetByTime(ctx context.Context, req *GetByTimeRequest) (resp *ObjectResponse, err error) {
	defer track("GetByTime")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	obj, err := sh.GetByTime(ctx, req.Key, req.TimestampUs, req.Stable)
	if err != nil {
		return nil, err
	}
	return &ObjectResponse{Object: obj}, nil
}

func (s *CascadeServer) GetSize(ctx context.Context, req *GetSizeRequest) (resp *SizeResponse, err error) {
	defer track("GetSize")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	size, err := sh.GetSize(ctx, req.Key, req.Version, req.Stable)
	if err != nil {
		return nil, err
	}
	return &SizeResponse{Size: size}, nil
}

func (s *CascadeServer) GetSizeByTime(ctx context.Context, req *GetSizeByTimeRequest) (resp *SizeResponse, err error) {
	defer track("GetSizeByTime")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	size, err := sh.GetSizeByTime(ctx, req.Key, req.TimestampUs, req.Stable)
	if err != nil {
		return nil, err
	}
	return &SizeResponse{Size: size}, nil
}

func (s *CascadeServer) ListKeys(ctx context.Context, req *ListKeysRequest) (resp *ListKeysResponse, err error) {
	defer track("ListKeys")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	keys, err := sh.ListKeys(ctx, req.Version, req.Stable)
	if err != nil {
		return nil, err
	}
	return &ListKeysResponse{Keys: keys}, nil
}

func (s *CascadeServer) ListKeysByTime(ctx context.Context, req *ListKeysByTimeRequest) (resp *ListKeysResponse, err error) {
	defer track("ListKeysByTime")(&err)
	sh, err := s.shard(req.ShardID)
	if err != nil {
		return nil, err
	}
	keys, err := sh.ListKeysByTime(ctx, req.TimestampUs, req.Stable)
	if err != nil {
		return nil, err
	}
	return &ListKeysResponse{Keys: keys}, nil
}

func (s *CascadeServer) GetSignature(ctx context.Context, req *GetSignatureRequest) (resp *SignatureResponse, err error) {
	defer track("GetSignature")(&err)
	sh, err := s.signedShard(req.ShardID)
	if err != nil {
		return nil, err
	}
	sig, prevVer, err := sh.GetSignature(req.Key, req.DataVersion)
	if err != nil {
		return nil, err
	}
	return &SignatureResponse{Signature: sig, PreviousSignedVersion: prevVer}, nil
}

func (s *CascadeServer) GetSignatureByVersion(ctx context.Context, req *GetSignatureByVersionRequest) (resp *SignatureResponse, err error) {
	defer track("GetSignatureByVersion")(&err)
	sh, err := s.signedShard(req.ShardID)
	if err != nil {
		return nil, err
	}
	sig, prevVer, err := sh.GetSignatureByVersion(req.SigVersion)
	if err != nil {
		return nil, err
	}
	return &SignatureResponse{Signature: sig, PreviousSignedVersion: prevVer}, nil
}

func (s *CascadeServer) CreateObjectPool(ctx context.Context, req *CreateObjectPoolRequest) (resp *ObjectPoolResponse, err error) {
	defer track("CreateObjectPool")(&err)
	meta, err := s.directory.CreateObjectPool(ctx, req.Pathname, req.SubgroupType, req.SubgroupIndex, req.Policy, req.Locations)
	if err != nil {
		return nil, err
	}
	metrics.ObjectPoolsTotal.Inc()
	return &ObjectPoolResponse{Metadata: meta}, nil
}

func (s *CascadeServer) FindObjectPool(ctx context.Context, req *FindObjectPoolRequest) (resp *ObjectPoolResponse, err error) {
	defer track("FindObjectPool")(&err)
	meta, err := s.directory.FindObjectPool(ctx, req.Pathname)
	if err != nil {
		return nil, err
	}
	return &ObjectPoolResponse{Metadata: meta}, nil
}

var _ Service = (*CascadeServer)(nil)
