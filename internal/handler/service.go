package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "klinika.scheduler.v1.Scheduler"

// SchedulerServer is the local scheduler API. Requests and replies are
// google.protobuf.Struct so any gRPC client can call it without stubs.
type SchedulerServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Slots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AvailableSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckConflict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sweep(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(SchedulerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return m(srv.(SchedulerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(srv.(SchedulerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", SchedulerServer.Login),
		unary("Slots", SchedulerServer.Slots),
		unary("AvailableSlots", SchedulerServer.AvailableSlots),
		unary("CheckConflict", SchedulerServer.CheckConflict),
		unary("Sweep", SchedulerServer.Sweep),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "klinika/scheduler/v1/scheduler.proto",
}

func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the scheduler over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) Call(ctx context.Context, name string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
