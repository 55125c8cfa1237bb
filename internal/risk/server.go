package risk

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service
// RiskModelServer is the server side of AssessMethod.
type RiskModelServer interface {
	Assess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var riskModelServiceDesc = grpc.ServiceDesc{
	ServiceName: "riskmodel.RiskModel",
	HandlerType: (*RiskModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Assess", Handler: assessHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "riskmodel.proto",
}

func assessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(RiskModelServer)
	if interceptor == nil {
		return s.Assess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AssessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.Assess(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service

// #region adapter
// estimatorServer exposes any Estimator as a RiskModelServer.
type estimatorServer struct {
	est Estimator
}

func (e estimatorServer) Assess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := e.est.Assess(ctx, DecodeFeatures(req))
	if err != nil {
		return nil, fmt.Errorf("assess: %w", err)
	}
	return EncodeAssessment(a), nil
}

// Register adds the risk model service backed by est to s.
func Register(s *grpc.Server, est Estimator) {
	s.RegisterService(&riskModelServiceDesc, estimatorServer{est: est})
}

// Serve runs a risk model server on lis until ctx is cancelled.
func Serve(ctx context.Context, lis net.Listener, est Estimator) error {
	s := grpc.NewServer()
	Register(s, est)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve risk model: %w", err)
		}
		return nil
	}
}

// #endregion adapter
