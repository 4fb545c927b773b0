// Package rpc declares gRPC services by hand. Every method is unary and takes and
// returns a google.protobuf.Struct, so no generated stubs are needed and any gRPC client
// using the standard proto codec can call them.
package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Service is a named set of methods. Build it with NewService and Handle, then Register it.
type Service struct {
	name    string
	methods []grpc.MethodDesc
}

// NewService starts a service with the fully qualified name (e.g. "lms.auth.v1.AuthService").
func NewService(name string) *Service {
	return &Service{name: name}
}

// Name returns the fully qualified service name.
func (s *Service) Name() string { return s.name }

// Handle adds a method. Registering the same method twice panics, like grpc.RegisterService.
func (s *Service) Handle(method string, h Handler) *Service {
	for _, m := range s.methods {
		if m.MethodName == method {
			panic(fmt.Sprintf("rpc: duplicate method %s/%s", s.name, method))
		}
	}
	s.methods = append(s.methods, grpc.MethodDesc{
		MethodName: method,
		Handler:    methodHandler(FullMethod(s.name, method), h),
	})
	return s
}

// Methods returns the full method names of the service, in registration order.
func (s *Service) Methods() []string {
	out := make([]string, len(s.methods))
	for i, m := range s.methods {
		out[i] = FullMethod(s.name, m.MethodName)
	}
	return out
}

// Register adds the service to r.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	desc := grpc.ServiceDesc{
		ServiceName: s.name,
		HandlerType: (*any)(nil),
		Methods:     append([]grpc.MethodDesc(nil), s.methods...),
		Streams:     []grpc.StreamDesc{},
		Metadata:    s.name,
	}
	r.RegisterService(&desc, s)
}

// FullMethod returns "/service/method", the form seen by interceptors.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func methodHandler(fullMethod string, h Handler) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

// Invoke calls service/method on conn with req and returns the response Struct.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(service, method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
