package rpc

import "github.com/cascadedb/cascade/pkg/types"

// Every RPC in this file corresponds to one row of §6.4's RPC surface.
// ShardID identifies the replica group the call targets; pkg/client
// resolves it ahead of time via pkg/pooldir (FindObjectPool, ResolveShard,
// Router.Select) so the server never needs to re-derive routing.

type PutRequest struct {
	ShardID              string
	Key                  string
	Blob                 []byte
	PreviousVersion      int64
	PreviousVersionByKey int64
	MessageID            uint64
}

type PutResponse struct {
	Version     int64
	TimestampUs uint64
	Rejected    bool
}

type TriggerPutRequest struct {
	ShardID   string
	Key       string
	Blob      []byte
	MessageID uint64
}

type Empty struct{}

type RemoveRequest struct {
	ShardID string
	Key     string
}

type GetRequest struct {
	ShardID string
	Key     string
	Version int64
	Stable  bool
}

type GetByTimeRequest struct {
	ShardID     string
	Key         string
	TimestampUs uint64
	Stable      bool
}

type MultiGetRequest struct {
	ShardID string
	Key     string
}

type ObjectResponse struct {
	Object *types.Object
}

type GetSizeRequest struct {
	ShardID string
	Key     string
	Version int64
	Stable  bool
}

type GetSizeByTimeRequest struct {
	ShardID     string
	Key         string
	TimestampUs uint64
	Stable      bool
}

type SizeResponse struct {
	Size uint64
}

type ListKeysRequest struct {
	ShardID string
	Version int64
	Stable  bool
}

type ListKeysByTimeRequest struct {
	ShardID     string
	TimestampUs uint64
	Stable      bool
}

type ListKeysResponse struct {
	Keys []string
}

type GetSignatureRequest struct {
	ShardID     string
	Key         string
	DataVersion int64
}

type GetSignatureByVersionRequest struct {
	ShardID    string
	SigVersion int64
}

type SignatureResponse struct {
	Signature             []byte
	PreviousSignedVersion int64
}

type CreateObjectPoolRequest struct {
	Pathname      string
	SubgroupType  int
	SubgroupIndex int
	Policy        types.ShardingPolicy
	Locations     map[string]int
}

type FindObjectPoolRequest struct {
	Pathname string
}

type ObjectPoolResponse struct {
	Metadata *types.ObjectPoolMetadata
}
