package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region service-desc
const (
	hopperServiceName   = "operant.device.v1.Hopper"
	setAccessibleMethod = "/operant.device.v1.Hopper/SetAccessible"
)

// HopperServer is the server side of the hopper service.
type HopperServer interface {
	SetAccessible(ctx context.Context, in *wrapperspb.BoolValue) (*emptypb.Empty, error)
}

// HopperClient is the client side of the hopper service.
type HopperClient interface {
	SetAccessible(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

func setAccessibleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HopperServer).SetAccessible(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setAccessibleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HopperServer).SetAccessible(ctx, req.(*wrapperspb.BoolValue))
	}
	return interceptor(ctx, in, info, handler)
}

var hopperServiceDesc = grpc.ServiceDesc{
	ServiceName: hopperServiceName,
	HandlerType: (*HopperServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetAccessible", Handler: setAccessibleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "operant/device/v1/hopper.proto",
}

// RegisterHopperServer attaches srv to s.
func RegisterHopperServer(s grpc.ServiceRegistrar, srv HopperServer) {
	s.RegisterService(&hopperServiceDesc, srv)
}

type hopperClient struct {
	cc grpc.ClientConnInterface
}

// NewHopperClient wraps a connection.
func NewHopperClient(cc grpc.ClientConnInterface) HopperClient {
	return &hopperClient{cc: cc}
}

func (c *hopperClient) SetAccessible(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, setAccessibleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service-desc

// #region client
// RemoteClient is a Device reached over gRPC.
type RemoteClient struct {
	conn   *grpc.ClientConn
	client HopperClient
}

// NewRemoteClient connects to a hopper daemon at addr.
func NewRemoteClient(addr string) (*RemoteClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteClient{conn: conn, client: NewHopperClient(conn)}, nil
}

// NewRemoteClientWithService creates a RemoteClient over an injected client.
// Used for testing without a real connection.
func NewRemoteClientWithService(svc HopperClient) *RemoteClient {
	return &RemoteClient{client: svc}
}

// maxRetries bounds resends of a command the daemon never received.
const maxRetries = 2

// retryBackoff is the wait before the first resend; it doubles per attempt.
var retryBackoff = 50 * time.Millisecond

// SetAccessible sends the command, resending while the daemon is
// unreachable. A raise that reports double access after a resend means an
// earlier attempt landed.
func (c *RemoteClient) SetAccessible(ctx context.Context, accessible bool) error {
	wait := retryBackoff
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("set accessible rpc: %w", ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		_, err = c.client.SetAccessible(ctx, wrapperspb.Bool(accessible))
		switch status.Code(err) {
		case codes.OK:
			return nil
		case codes.FailedPrecondition:
			if attempt > 0 && accessible {
				return nil
			}
			return fmt.Errorf("set accessible rpc: %w", ErrDoubleAccess)
		case codes.Unavailable:
			continue
		default:
			return fmt.Errorf("set accessible rpc: %w", err)
		}
	}
	return fmt.Errorf("set accessible rpc after %d attempts: %w", maxRetries+1, err)
}

// Close shuts down the connection. The remote hopper is left as commanded.
func (c *RemoteClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

var _ Device = (*RemoteClient)(nil)

// #endregion client

// #region server
type hopperService struct {
	dev    Device
	logger *zap.Logger
}

func (s *hopperService) SetAccessible(ctx context.Context, in *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	err := s.dev.SetAccessible(ctx, in.GetValue())
	switch {
	case err == nil:
		s.logger.Info("hopper command", zap.Bool("accessible", in.GetValue()))
		return &emptypb.Empty{}, nil
	case errors.Is(err, ErrDoubleAccess):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// Serve exposes dev on lis until ctx ends. The device is lowered on exit.
func Serve(ctx context.Context, lis net.Listener, dev Device, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer()
	RegisterHopperServer(s, &hopperService{dev: dev, logger: logger})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	logger.Info("hopper service listening", zap.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.GracefulStop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("hopper service: %w", err)
		}
	}
	if err := dev.SetAccessible(context.Background(), false); err != nil && !errors.Is(err, ErrClosed) {
		logger.Warn("lower hopper on shutdown", zap.Error(err))
	}
	return nil
}

// #endregion server
