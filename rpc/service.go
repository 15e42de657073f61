package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/services"
)

const serviceName = "picklo.RoundService"

type RoundRequest struct {
	RoundID string `json:"round_id"`
}

type RoomRequest struct {
	RoomID string `json:"room_id"`
}

type AdvanceReply struct {
	Advance engine.Advance `json:"advance"`
}

type FinalizeReply struct {
	Applied bool                 `json:"applied"`
	Winners []models.RoundWinner `json:"winners,omitempty"`
}

type StandingsReply struct {
	Standings []services.Standing `json:"standings"`
}

// RoundServiceServer 远程过程接口
type RoundServiceServer interface {
	AdvanceRoundIfReady(context.Context, *RoundRequest) (*AdvanceReply, error)
	FinalizeRound(context.Context, *RoundRequest) (*FinalizeReply, error)
	Standings(context.Context, *RoomRequest) (*StandingsReply, error)
}

// RoundService 把引擎和计分暴露给其他进程
type RoundService struct {
	engine *engine.Engine
	store  persistence.Store
	scores *services.ScoreService
}

func NewRoundService(e *engine.Engine, store persistence.Store, scores *services.ScoreService) *RoundService {
	return &RoundService{engine: e, store: store, scores: scores}
}

func (s *RoundService) AdvanceRoundIfReady(ctx context.Context, req *RoundRequest) (*AdvanceReply, error) {
	if req.RoundID == "" {
		return nil, status.Error(codes.InvalidArgument, "round_id is required")
	}
	adv, err := s.engine.AdvanceIfReady(ctx, req.RoundID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AdvanceReply{Advance: adv}, nil
}

// FinalizeRound scores a voting round and closes it. Calling it again is a
// no-op that reports Applied false.
func (s *RoundService) FinalizeRound(ctx context.Context, req *RoundRequest) (*FinalizeReply, error) {
	if req.RoundID == "" {
		return nil, status.Error(codes.InvalidArgument, "round_id is required")
	}
	winners, applied, err := s.store.FinalizeRound(ctx, req.RoundID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FinalizeReply{Applied: applied, Winners: winners}, nil
}

func (s *RoundService) Standings(ctx context.Context, req *RoomRequest) (*StandingsReply, error) {
	if req.RoomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room_id is required")
	}
	standings, err := s.scores.Standings(ctx, req.RoomID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StandingsReply{Standings: standings}, nil
}

func toStatus(err error) error {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errs.KindConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case errs.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// RegisterRoundService 注册到 gRPC 服务器
func RegisterRoundService(s grpc.ServiceRegistrar, srv RoundServiceServer) {
	s.RegisterService(&RoundServiceDesc, srv)
}

var RoundServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RoundServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AdvanceRoundIfReady", Handler: advanceHandler},
		{MethodName: "FinalizeRound", Handler: finalizeHandler},
		{MethodName: "Standings", Handler: standingsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "picklo/round_service",
}

func advanceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RoundRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoundServiceServer).AdvanceRoundIfReady(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AdvanceRoundIfReady"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RoundServiceServer).AdvanceRoundIfReady(ctx, req.(*RoundRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func finalizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RoundRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoundServiceServer).FinalizeRound(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FinalizeRound"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RoundServiceServer).FinalizeRound(ctx, req.(*RoundRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func standingsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RoomRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoundServiceServer).Standings(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Standings"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RoundServiceServer).Standings(ctx, req.(*RoomRequest))
	}
	return interceptor(ctx, in, info, handler)
}
