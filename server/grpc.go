package server

import (
	"TouchCounter/logger"
	"TouchCounter/monitor"
	"TouchCounter/pipeline"
	"TouchCounter/touch"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SessionMetadataKey selects the session of a gRPC call. Calls without it use
// the default session.
const SessionMetadataKey = "session-id"

// FrameSeqMetadataKey carries the capture sequence number of a ProcessFrame
// call. Calls without it are applied in arrival order.
const FrameSeqMetadataKey = "frame-seq"

const touchServiceName = "touch.TouchService"

// TouchServiceServer is the gRPC surface of a session. Messages are protobuf
// well-known types, so no generated code is needed.
type TouchServiceServer interface {
	ProcessFrame(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	GetTouches(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func unaryHandler[Req any, Resp any](method string, call func(TouchServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TouchServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + touchServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TouchServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var touchServiceDesc = grpc.ServiceDesc{
	ServiceName: touchServiceName,
	HandlerType: (*TouchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ProcessFrame", TouchServiceServer.ProcessFrame),
		unaryHandler("GetTouches", TouchServiceServer.GetTouches),
		unaryHandler("Reset", TouchServiceServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "touch.proto",
}

// RegisterTouchServiceServer attaches impl to s.
func RegisterTouchServiceServer(s grpc.ServiceRegistrar, impl TouchServiceServer) {
	s.RegisterService(&touchServiceDesc, impl)
}

type rpcServer struct {
	*Server
}

// GRPC returns the gRPC implementation backed by the same registry and pipeline.
func (s *Server) GRPC() TouchServiceServer {
	return rpcServer{s}
}

func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, touch.ErrSessionNotFound):
		code = codes.NotFound
	case errors.Is(err, touch.ErrStaleFrame):
		code = codes.FailedPrecondition
	case errors.Is(err, errBadImage), errors.Is(err, touch.ErrInvalidImage):
		code = codes.InvalidArgument
	case errors.Is(err, pipeline.ErrDetector):
		code = codes.Unavailable
	case errors.Is(err, pipeline.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

func (s rpcServer) sessionFrom(ctx context.Context) (*touch.Session, error) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(SessionMetadataKey); len(v) > 0 {
			id = v[0]
		}
	}
	return s.registry.Get(id)
}

func frameSeq(ctx context.Context) (uint64, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, nil
	}
	v := md.Get(FrameSeqMetadataKey)
	if len(v) == 0 || v[0] == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(v[0], 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", FrameSeqMetadataKey, v[0])
	}
	return seq, nil
}

func (s rpcServer) ProcessFrame(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.RequestsTotal.WithLabelValues("grpc", "frame").Inc()
	sess, err := s.sessionFrom(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	seq, err := frameSeq(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.GetValue()) == 0 {
		return nil, grpcError(fmt.Errorf("%w: empty image", errBadImage))
	}
	res, err := s.pipeline.Process(ctx, sess, pipeline.Frame{Seq: seq, Image: req.GetValue()})
	if err != nil {
		return nil, grpcError(err)
	}
	dets := make([]any, 0, len(res.Accepted))
	for _, d := range res.Accepted {
		coords := make([]any, 0, 4)
		for _, v := range d.Coordinates() {
			coords = append(coords, v)
		}
		dets = append(dets, map[string]any{
			"label":       d.Label,
			"coordinates": coords,
			"confidence":  d.Confidence,
		})
	}
	out, err := structpb.NewStruct(map[string]any{
		"touches":    res.Touches,
		"counted":    res.Step.Counted,
		"detections": dets,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s rpcServer) GetTouches(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	monitor.RequestsTotal.WithLabelValues("grpc", "touches").Inc()
	sess, err := s.sessionFrom(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Int64(int64(sess.Touches())), nil
}

func (s rpcServer) Reset(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.RequestsTotal.WithLabelValues("grpc", "reset").Inc()
	sess, err := s.sessionFrom(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	s.pipeline.Reset(ctx, sess)
	return &emptypb.Empty{}, nil
}

// StartGRPCServer listens on port and serves in the background.
func (s *Server) StartGRPCServer(port int) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	srv := grpc.NewServer()
	RegisterTouchServiceServer(srv, s.GRPC())
	go func() {
		logger.Log().Info("gRPC server listening", zap.Int("port", port))
		if err := srv.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}

// TouchServiceClient is a thin client for the service above.
type TouchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTouchServiceClient(cc grpc.ClientConnInterface) *TouchServiceClient {
	return &TouchServiceClient{cc: cc}
}

func (c *TouchServiceClient) ProcessFrame(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+touchServiceName+"/ProcessFrame", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TouchServiceClient) GetTouches(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, "/"+touchServiceName+"/GetTouches", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TouchServiceClient) Reset(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+touchServiceName+"/Reset", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
