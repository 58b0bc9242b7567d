package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geolocal.v1.GeolocalService"

const (
	checkMethod    = "/" + ServiceName + "/Check"
	containsMethod = "/" + ServiceName + "/Contains"
)

// GeolocalServiceServer is the server API. Requests and responses are
// google.protobuf.Struct messages so that no generated code is needed.
//
// Check takes {ip, allowed_countries, family?} and returns
// {allowed, country}. Contains takes {country, ip, family?} and returns
// {found}.
type GeolocalServiceServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Contains(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes GeolocalService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeolocalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unaryHandler(checkMethod, GeolocalServiceServer.Check)},
		{MethodName: "Contains", Handler: unaryHandler(containsMethod, GeolocalServiceServer.Contains)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geolocal/v1/geolocal.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv GeolocalServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(GeolocalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GeolocalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GeolocalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls GeolocalService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Check asks whether ip belongs to any of allowed. family may be empty.
func (c *Client) Check(ctx context.Context, ip string, allowed []string, family string) (bool, string, error) {
	countries := make([]any, len(allowed))
	for i, a := range allowed {
		countries[i] = a
	}
	in, err := structpb.NewStruct(map[string]any{
		"ip":                ip,
		"allowed_countries": countries,
		"family":            family,
	})
	if err != nil {
		return false, "", err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, checkMethod, in, out); err != nil {
		return false, "", err
	}
	return out.GetFields()["allowed"].GetBoolValue(), out.GetFields()["country"].GetStringValue(), nil
}

// Contains asks whether ip belongs to country. family may be empty.
func (c *Client) Contains(ctx context.Context, country, ip, family string) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{
		"country": country,
		"ip":      ip,
		"family":  family,
	})
	if err != nil {
		return false, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, containsMethod, in, out); err != nil {
		return false, err
	}
	return out.GetFields()["found"].GetBoolValue(), nil
}
