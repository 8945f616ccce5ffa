package rpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cloudimpl/querycoord/qerror"
)

// GRPCTransport implements Transport over google.golang.org/grpc, the
// way both cockroachdb-cockroach and cortexproject-cortex wire their
// internal RPC fabric. The application payloads in this package are
// opaque per spec.md §6 ("this specification does not redefine their
// schemas"), so rather than hand-authoring a matching .proto and
// running protoc against it, each call is gob-encoded and carried
// inside a single well-known wrapperspb.BytesValue — the service
// methods are wired by hand onto a grpc.ServiceDesc instead of
// generated stubs. The .proto in rpc/querycoord.proto documents the
// intended schema for a future codegen pass.
type GRPCTransport struct {
	dialOpts []grpc.DialOption
}

// NewGRPCTransport builds a transport that dials workers in plaintext
// (grpc/credentials/insecure); production deployments should pass
// TLS dial options instead.
func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
}

const (
	methodExecPlanFragment    = "/querycoord.Worker/ExecPlanFragment"
	methodCancelPlanFragment  = "/querycoord.Worker/CancelPlanFragment"
	methodUpdateExecStatus    = "/querycoord.Coordinator/UpdateFragmentExecStatus"
	serviceNameWorker         = "querycoord.Worker"
	serviceNameCoordinator    = "querycoord.Coordinator"
)

func encode(v interface{}) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encoding rpc payload")
	}
	return &wrapperspb.BytesValue{Value: buf.Bytes()}, nil
}

func decode(b *wrapperspb.BytesValue, v interface{}) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(b.Value)).Decode(v), "decoding rpc payload")
}

func (t *GRPCTransport) NewWorkerClient(address string) (WorkerClient, error) {
	conn, err := grpc.NewClient(address, t.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing worker %s", address)
	}
	return &grpcWorkerClient{conn: conn}, nil
}

type grpcWorkerClient struct {
	conn *grpc.ClientConn
}

func (c *grpcWorkerClient) call(ctx context.Context, method string, req interface{}) (qerror.Status, error) {
	in, err := encode(req)
	if err != nil {
		return qerror.Status{}, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return qerror.Status{}, errors.Wrapf(err, "invoking %s", method)
	}
	var status qerror.Status
	if err := decode(out, &status); err != nil {
		return qerror.Status{}, err
	}
	return status, nil
}

func (c *grpcWorkerClient) ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) (qerror.Status, error) {
	return c.call(ctx, methodExecPlanFragment, params)
}

func (c *grpcWorkerClient) CancelPlanFragment(ctx context.Context, params *CancelPlanFragmentParams) (qerror.Status, error) {
	return c.call(ctx, methodCancelPlanFragment, params)
}

func (c *grpcWorkerClient) Close() error { return c.conn.Close() }

// ServeCoordinator starts a grpc.Server exposing cb.UpdateFragmentExecStatus
// at address, returning a closer that stops the server.
func (t *GRPCTransport) ServeCoordinator(address string, cb CoordinatorCallback) (io.Closer, error) {
	desc := grpc.ServiceDesc{
		ServiceName: serviceNameCoordinator,
		HandlerType: (*CoordinatorCallback)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "UpdateFragmentExecStatus",
				Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					in := new(wrapperspb.BytesValue)
					if err := dec(in); err != nil {
						return nil, err
					}
					var params ReportExecStatusParams
					if err := decode(in, &params); err != nil {
						return nil, err
					}
					status, err := cb.UpdateFragmentExecStatus(ctx, &params)
					if err != nil {
						return nil, err
					}
					return encode(status)
				},
			},
		},
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", address)
	}
	server := grpc.NewServer()
	server.RegisterService(&desc, cb)
	go func() { _ = server.Serve(lis) }()

	return grpcCloser{server: server}, nil
}

type grpcCloser struct {
	server *grpc.Server
}

func (c grpcCloser) Close() error {
	c.server.GracefulStop()
	return nil
}
