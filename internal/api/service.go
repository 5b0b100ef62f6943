package api

import (
	"context"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Counter reports the total number of stored messages.
type Counter interface {
	MessageCount(ctx context.Context) (int64, error)
}

type unaryFunc func(ctx context.Context, e *Entry, req *structpb.Struct) (any, error)

type method struct {
	// needsSession methods fail with Unauthenticated without a valid
	// session header.
	needsSession bool
	fn           unaryFunc
}

// Service is the huddled gRPC API.
type Service struct {
	instance  string
	startedAt time.Time
	registry  *Registry
	counter   Counter
	logger    *zap.Logger
	methods   map[string]method
}

// NewService creates the API over registry. counter may be nil.
func NewService(instance string, registry *Registry, counter Counter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		instance:  instance,
		startedAt: time.Now(),
		registry:  registry,
		counter:   counter,
		logger:    logger.Named("api"),
	}
	s.methods = s.routes()
	return s
}

// Desc returns the service description to register on a grpc.Server.
func (s *Service) Desc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    MethodWatch,
			Handler:       s.watchHandler,
			ServerStreams: true,
		}},
		Metadata: "huddle/v1/huddle.proto",
	}
	for name, m := range s.methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    s.unaryHandler(name, m),
		})
	}
	return desc
}

// Register adds the service to srv.
func (s *Service) Register(srv *grpc.Server) {
	srv.RegisterService(s.Desc(), s)
}

func (s *Service) unaryHandler(name string, m method) grpc.MethodHandler {
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: FullMethod(name)}
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		run := func(ctx context.Context, req any) (any, error) {
			return s.invoke(ctx, m, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return run(ctx, in)
		}
		return interceptor(ctx, in, info, run)
	}
}

func (s *Service) invoke(ctx context.Context, m method, req *structpb.Struct) (any, error) {
	var e *Entry
	if id := sessionID(ctx); id != "" {
		var err error
		if e, err = s.registry.Get(id); err != nil {
			return nil, s.fail(ctx, chat.Wrap(chat.CodeUnauthenticated, "unknown session", err))
		}
	}
	if m.needsSession && e == nil {
		return nil, s.fail(ctx, chat.New(chat.CodeUnauthenticated, "missing "+SessionHeader+" header"))
	}

	out, err := m.fn(ctx, e, req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	resp, err := Encode(out)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return resp, nil
}

// fail attaches the domain code trailer and converts err to a status.
func (s *Service) fail(ctx context.Context, err error) error {
	if md := trailerFor(err); md != nil {
		_ = grpc.SetTrailer(ctx, md)
	}
	return ToStatus(err)
}

func sessionID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(SessionHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
