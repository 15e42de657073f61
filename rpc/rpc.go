package rpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/monitor"
)

// Server manages the gRPC listener.
type Server struct {
	listener net.Listener
	address  string
	grpc     *grpc.Server
}

// NewServer listens on addr and serves the round service.
func NewServer(addr string, svc RoundServiceServer, mon *monitor.Monitor) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, svc, mon), nil
}

// NewServerWithListener 使用已有的监听器，测试中传入 bufconn
func NewServerWithListener(listener net.Listener, svc RoundServiceServer, mon *monitor.Monitor) *Server {
	g := grpc.NewServer(grpc.UnaryInterceptor(observe(mon)))
	RegisterRoundService(g, svc)
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		grpc:     g,
	}
}

func observe(mon *monitor.Monitor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		mon.ObserveRequest(info.FullMethod, time.Since(start))
		if err != nil {
			logger.Log.Debugw("rpc failed", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

// Start begins serving; it returns when the server stops.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	return s.grpc.Serve(s.listener)
}

// Stop waits for in-flight calls and closes the listener.
func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.grpc.GracefulStop()
}

// Client 调用远程 RoundService
type Client struct {
	conn *grpc.ClientConn
}

// Dial 连接到 target；opts 为空时使用明文连接
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) AdvanceRoundIfReady(ctx context.Context, roundID string) (*AdvanceReply, error) {
	out := new(AdvanceReply)
	if err := c.invoke(ctx, "AdvanceRoundIfReady", &RoundRequest{RoundID: roundID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FinalizeRound(ctx context.Context, roundID string) (*FinalizeReply, error) {
	out := new(FinalizeReply)
	if err := c.invoke(ctx, "FinalizeRound", &RoundRequest{RoundID: roundID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Standings(ctx context.Context, roomID string) (*StandingsReply, error) {
	out := new(StandingsReply)
	if err := c.invoke(ctx, "Standings", &RoomRequest{RoomID: roomID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
