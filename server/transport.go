package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func (s *Server) registerConnect() {
	s.mux.Handle(connectUnary(AssembleProcedure, s.Assemble))
	s.mux.Handle(connectUnary(DisassembleProcedure, s.Disassemble))
	s.mux.Handle(connectUnary(RunProcedure, s.Run))
	s.mux.Handle(connectUnary(GetRunProcedure, s.GetRun))
}

// connectUnary adapts a service method to a Connect handler speaking CBOR
// and JSON.
func connectUnary[Req, Res any](procedure string, call func(context.Context, *Req) (*Res, error)) (string, http.Handler) {
	handler := connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			out, err := call(ctx, req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(out), nil
		},
		connect.WithCodec(cborCodec{}),
		connect.WithCodec(jsonCodec{}),
	)
	return procedure, handler
}

func connectError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return connect.NewError(connect.Code(errorCode(err)), err)
}

// errorCode classifies a service error. Connect codes share the gRPC
// numbering.
func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, ErrExhausted):
		return codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// Client calls the Connect transport using the CBOR codec.
type Client struct {
	assemble    *connect.Client[AssembleRequest, AssembleResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
	run         *connect.Client[RunRequest, RunStatus]
	getRun      *connect.Client[GetRunRequest, RunStatus]
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opt := connect.WithCodec(cborCodec{})
	return &Client{
		assemble:    connect.NewClient[AssembleRequest, AssembleResponse](httpClient, baseURL+AssembleProcedure, opt),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, opt),
		run:         connect.NewClient[RunRequest, RunStatus](httpClient, baseURL+RunProcedure, opt),
		getRun:      connect.NewClient[GetRunRequest, RunStatus](httpClient, baseURL+GetRunProcedure, opt),
	}
}

func (c *Client) Assemble(ctx context.Context, req *AssembleRequest) (*AssembleResponse, error) {
	return unary(ctx, c.assemble, req)
}

func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	return unary(ctx, c.disassemble, req)
}

func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunStatus, error) {
	return unary(ctx, c.run, req)
}

func (c *Client) GetRun(ctx context.Context, req *GetRunRequest) (*RunStatus, error) {
	return unary(ctx, c.getRun, req)
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

// NewGRPCServer returns a gRPC server with both services registered and
// the CBOR codec forced.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(cborCodec{}))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&assemblerServiceDesc, s)
	gs.RegisterService(&runnerServiceDesc, s)
	return gs
}

var assemblerServiceDesc = grpc.ServiceDesc{
	ServiceName: AssemblerServiceName,
	HandlerType: (*AssemblerServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcUnary("Assemble", AssembleProcedure, func(srv any, ctx context.Context, req *AssembleRequest) (*AssembleResponse, error) {
			return srv.(AssemblerServer).Assemble(ctx, req)
		}),
		grpcUnary("Disassemble", DisassembleProcedure, func(srv any, ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
			return srv.(AssemblerServer).Disassemble(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glosso/v1/glosso.proto",
}

var runnerServiceDesc = grpc.ServiceDesc{
	ServiceName: RunnerServiceName,
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcUnary("Run", RunProcedure, func(srv any, ctx context.Context, req *RunRequest) (*RunStatus, error) {
			return srv.(RunnerServer).Run(ctx, req)
		}),
		grpcUnary("GetRun", GetRunProcedure, func(srv any, ctx context.Context, req *GetRunRequest) (*RunStatus, error) {
			return srv.(RunnerServer).GetRun(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glosso/v1/glosso.proto",
}

// grpcUnary builds a method descriptor that decodes Req, runs the
// interceptor chain and maps service errors to status errors.
func grpcUnary[Req, Res any](name, fullMethod string, call func(any, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv, ctx, req.(*Req))
				if err != nil {
					return nil, grpcError(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func grpcError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(errorCode(err), err.Error())
}

// GRPCClient calls the gRPC transport using the CBOR codec.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) Assemble(ctx context.Context, req *AssembleRequest) (*AssembleResponse, error) {
	out := new(AssembleResponse)
	if err := c.cc.Invoke(ctx, AssembleProcedure, req, out, grpc.ForceCodec(cborCodec{})); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	out := new(DisassembleResponse)
	if err := c.cc.Invoke(ctx, DisassembleProcedure, req, out, grpc.ForceCodec(cborCodec{})); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) Run(ctx context.Context, req *RunRequest) (*RunStatus, error) {
	out := new(RunStatus)
	if err := c.cc.Invoke(ctx, RunProcedure, req, out, grpc.ForceCodec(cborCodec{})); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) GetRun(ctx context.Context, req *GetRunRequest) (*RunStatus, error) {
	out := new(RunStatus)
	if err := c.cc.Invoke(ctx, GetRunProcedure, req, out, grpc.ForceCodec(cborCodec{})); err != nil {
		return nil, err
	}
	return out, nil
}
