package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC full method prefix used by every RPC in this
// package, mirroring how a generated *_grpc.pb.go would name it.
const serviceName = "cascade.Store"

// Service is the server-side contract for the full §6.4 RPC surface.
// CascadeServer (server.go) is the production implementation; pkg/client
// dials a grpc.ClientConn and invokes these same methods by name.
type Service interface {
	Put(ctx context.Context, req *PutRequest) (*PutResponse, error)
	PutAndForget(ctx context.Context, req *PutRequest) (*Empty, error)
	TriggerPut(ctx context.Context, req *TriggerPutRequest) (*Empty, error)
	Remove(ctx context.Context, req *RemoveRequest) (*PutResponse, error)
	Get(ctx context.Context, req *GetRequest) (*ObjectResponse, error)
	MultiGet(ctx context.Context, req *MultiGetRequest) (*ObjectResponse, error)
	GetByTime(ctx context.Context, req *GetByTimeRequest) (*ObjectResponse, error)
	GetSize(ctx context.Context, req *GetSizeRequest) (*SizeResponse, error)
	GetSizeByTime(ctx context.Context, req *GetSizeByTimeRequest) (*SizeResponse, error)
	ListKeys(ctx context.Context, req *ListKeysRequest) (*ListKeysResponse, error)
	ListKeysByTime(ctx context.Context, req *ListKeysByTimeRequest) (*ListKeysResponse, error)
	GetSignature(ctx context.Context, req *GetSignatureRequest) (*SignatureResponse, error)
	GetSignatureByVersion(ctx context.Context, req *GetSignatureByVersionRequest) (*SignatureResponse, error)
	CreateObjectPool(ctx context.Context, req *CreateObjectPoolRequest) (*ObjectPoolResponse, error)
	FindObjectPool(ctx context.Context, req *FindObjectPoolRequest) (*ObjectPoolResponse, error)
}

func unaryHandler(newReq func() interface{}, call func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req)
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc is the hand-rolled analogue of a generated *_grpc.pb.go
// ServiceDesc: it registers every §6.4 RPC as a unary method of
// serviceName against grpc.RegisterService, without a .proto toolchain.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: unaryHandler(
			func() interface{} { return new(PutRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).Put(ctx, req.(*PutRequest))
			})},
		{MethodName: "PutAndForget", Handler: unaryHandler(
			func() interface{} { return new(PutRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).PutAndForget(ctx, req.(*PutRequest))
			})},
		{MethodName: "TriggerPut", Handler: unaryHandler(
			func() interface{} { return new(TriggerPutRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).TriggerPut(ctx, req.(*TriggerPutRequest))
			})},
		{MethodName: "Remove", Handler: unaryHandler(
			func() interface{} { return new(RemoveRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).Remove(ctx, req.(*RemoveRequest))
			})},
		{MethodName: "Get", Handler: unaryHandler(
			func() interface{} { return new(GetRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).Get(ctx, req.(*GetRequest))
			})},
		{MethodName: "MultiGet", Handler: unaryHandler(
			func() interface{} { return new(MultiGetRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).MultiGet(ctx, req.(*MultiGetRequest))
			})},
		{MethodName: "GetByTime", Handler: unaryHandler(
			func() interface{} { return new(GetByTimeRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).GetByTime(ctx, req.(*GetByTimeRequest))
			})},
		{MethodName: "GetSize", Handler: unaryHandler(
			func() interface{} { return new(GetSizeRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).GetSize(ctx, req.(*GetSizeRequest))
			})},
		{MethodName: "GetSizeByTime", Handler: unaryHandler(
			func() interface{} { return new(GetSizeByTimeRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).GetSizeByTime(ctx, req.(*GetSizeByTimeRequest))
			})},
		{MethodName: "ListKeys", Handler: unaryHandler(
			func() interface{} { return new(ListKeysRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).ListKeys(ctx, req.(*ListKeysRequest))
			})},
		{MethodName: "ListKeysByTime", Handler: unaryHandler(
			func() interface{} { return new(ListKeysByTimeRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).ListKeysByTime(ctx, req.(*ListKeysByTimeRequest))
			})},
		{MethodName: "GetSignature", Handler: unaryHandler(
			func() interface{} { return new(GetSignatureRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).GetSignature(ctx, req.(*GetSignatureRequest))
			})},
		{MethodName: "GetSignatureByVersion", Handler: unaryHandler(
			func() interface{} { return new(GetSignatureByVersionRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).GetSignatureByVersion(ctx, req.(*GetSignatureByVersionRequest))
			})},
		{MethodName: "CreateObjectPool", Handler: unaryHandler(
			func() interface{} { return new(CreateObjectPoolRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).CreateObjectPool(ctx, req.(*CreateObjectPoolRequest))
			})},
		{MethodName: "FindObjectPool", Handler: unaryHandler(
			func() interface{} { return new(FindObjectPoolRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(Service).FindObjectPool(ctx, req.(*FindObjectPoolRequest))
			})},
	},
	Metadata: "pkg/rpc/service.go",
}

// RegisterService registers impl with s using ServiceDesc, the same call
// a generated RegisterStoreServer helper would make.
func RegisterService(s grpc.ServiceRegistrar, impl Service) {
	s.RegisterService(&ServiceDesc, impl)
}
