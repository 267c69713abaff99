package trainerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/logger"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// TrainerServiceName is the fully qualified gRPC service name
const TrainerServiceName = "trainer.v1.TrainerService"

// TrainerServer is the gRPC trainer service. Messages are google.protobuf.Struct
// documents carrying the same JSON shapes as the HTTP API.
type TrainerServer interface {
	CreateRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StopRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type trainerMethod func(TrainerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call trainerMethod) grpc.MethodDesc {
	fullMethod := "/" + TrainerServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TrainerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TrainerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TrainerServiceDesc describes the service for grpc.Server.RegisterService
var TrainerServiceDesc = grpc.ServiceDesc{
	ServiceName: TrainerServiceName,
	HandlerType: (*TrainerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateRun", TrainerServer.CreateRun),
		unaryHandler("StartRun", TrainerServer.StartRun),
		unaryHandler("StopRun", TrainerServer.StopRun),
		unaryHandler("GetRun", TrainerServer.GetRun),
		unaryHandler("ListRuns", TrainerServer.ListRuns),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trainer/v1/trainer.proto",
}

// RegisterTrainerServer registers srv on s
func RegisterTrainerServer(s grpc.ServiceRegistrar, srv TrainerServer) {
	s.RegisterService(&TrainerServiceDesc, srv)
}

// TrainerGRPCServer implements TrainerServer on top of a RunStore and RunExecutor.
type TrainerGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

// NewTrainerGRPCServer creates a TrainerGRPCServer
func NewTrainerGRPCServer(store *RunStore, executor *RunExecutor) *TrainerGRPCServer {
	return &TrainerGRPCServer{
		store:    store,
		Executor: executor,
	}
}

type runIDRequest struct {
	RunID string `json:"run_id"`
}

type createRunRequest struct {
	RunID string `json:"run_id"`
	RunInput
}

type listRunsRequest struct {
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Status string `json:"status"`
}

func (s *TrainerGRPCServer) CreateRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in createRunRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if in.ConfigYAML == "" {
		return nil, status.Error(codes.InvalidArgument, "config_yaml is required")
	}

	rec, err := s.store.Create(in.RunID, in.RunInput)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run created", "run_id", rec.Run.ID)
	return runResponse(rec.Run)
}

func (s *TrainerGRPCServer) StartRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(req)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Start(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run started (executor)", "run_id", runID)
	return runResponse(updated.Run)
}

func (s *TrainerGRPCServer) StopRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(req)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run cancelled", "run_id", runID)
	return runResponse(updated.Run)
}

func (s *TrainerGRPCServer) GetRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return runResponse(rec.Run)
}

func (s *TrainerGRPCServer) ListRuns(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRunsRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	var filter models.RunStatus
	if in.Status != "" {
		parsed, ok := parseRunStatus(in.Status)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status: %s", in.Status)
		}
		filter = parsed
	}

	recs := s.store.List(in.Limit, max(in.Offset, 0), filter)
	runs := make([]*models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return encodeStruct(map[string]any{"runs": runs})
}

func requireRunID(req *structpb.Struct) (string, error) {
	var in runIDRequest
	if err := decodeStruct(req, &in); err != nil {
		return "", err
	}
	if in.RunID == "" {
		return "", status.Error(codes.InvalidArgument, ErrRunIDMissing.Error())
	}
	return in.RunID, nil
}

func runResponse(run *models.Run) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{"run": run})
}

// decodeStruct maps a Struct onto a JSON-tagged Go value
func decodeStruct(st *structpb.Struct, v any) error {
	if st == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encodeStruct converts a JSON-tagged Go value into a Struct
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrRunExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrRunTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// TrainerClient calls the trainer service over a client connection
type TrainerClient struct {
	cc grpc.ClientConnInterface
}

// NewTrainerClient creates a client on cc
func NewTrainerClient(cc grpc.ClientConnInterface) *TrainerClient {
	return &TrainerClient{cc: cc}
}

func (c *TrainerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", TrainerServiceName, method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TrainerClient) CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateRun", in, opts...)
}

func (c *TrainerClient) StartRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartRun", in, opts...)
}

func (c *TrainerClient) StopRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopRun", in, opts...)
}

func (c *TrainerClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

func (c *TrainerClient) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", in, opts...)
}
