package scorer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region wire
// The scorer service exchanges google.protobuf.Struct messages:
//
//	request:  {"condition": "<name>", "seed": "<decimal int64>"}
//	response: {"score": <number>}
const (
	serviceName = "harness.scorer.v1.Scorer"
	scoreMethod = "/" + serviceName + "/Score"
)

// #endregion wire

// #region client
// GRPCClient is a Scorer backed by a remote scorer service.
type GRPCClient struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCClient connects to the scorer service at addr. timeout bounds each
// Score call; zero means no per-call bound.
func NewGRPCClient(addr string, timeout time.Duration) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn, timeout: timeout}, nil
}

// NewGRPCClientWithConn creates a client over an existing connection.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *GRPCClient {
	return &GRPCClient{cc: cc, timeout: timeout}
}

// Close shuts down the connection if the client owns it.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Score asks the remote service for cond's metric.
func (c *GRPCClient) Score(ctx context.Context, cond Condition, seed int64) (float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"condition": string(cond),
		"seed":      strconv.FormatInt(seed, 10),
	})
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, scoreMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, fmt.Errorf("%w: %s: %s", errs.ErrMissingMetric, cond, status.Convert(err).Message())
		}
		return 0, fmt.Errorf("score rpc: %w", err)
	}

	v, ok := resp.GetFields()["score"]
	if !ok {
		return 0, fmt.Errorf("%w: %s: response has no score", errs.ErrMissingMetric, cond)
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, fmt.Errorf("%w: %s: score is not a number", errs.ErrMissingMetric, cond)
	}
	return v.GetNumberValue(), nil
}

// #endregion client

// #region server
var scorerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Scorer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "harness/scorer/v1/scorer.proto",
}

// RegisterServer exposes impl as the scorer service on s.
func RegisterServer(s grpc.ServiceRegistrar, impl Scorer) {
	s.RegisterService(&scorerServiceDesc, impl)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		return serveScore(ctx, srv.(Scorer), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scoreMethod}
	return interceptor(ctx, in, info, handle)
}

func serveScore(ctx context.Context, impl Scorer, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	cond, err := ParseCondition(fields["condition"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	seed, err := strconv.ParseInt(fields["seed"].GetStringValue(), 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parse seed: %v", err)
	}

	v, err := impl.Score(ctx, cond, seed)
	switch {
	case errors.Is(err, errs.ErrMissingMetric):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"score": structpb.NewNumberValue(v),
	}}, nil
}

// #endregion server
