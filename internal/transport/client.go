package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region types
// DecideResult holds the response from a Decide RPC call.
type DecideResult struct {
	Action string
	Source string
	Seq    uint64
	ID     string
}

// StatusResult holds the response from a Status RPC call.
type StatusResult struct {
	State         string
	PolicyKind    string
	LogSize       int
	Interactions  uint64
	RetrainCycles uint64
	ModelVersion  string
	LastRetrain   map[string]any
}

// #endregion types

// #region client-struct
// DecisionClient wraps a gRPC connection to a DecisionService.
type DecisionClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewDecisionClient connects to the decision gRPC server.
func NewDecisionClient(addr string, opts ...grpc.DialOption) (*DecisionClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &DecisionClient{conn: conn, cc: conn}, nil
}

// NewDecisionClientWithConn creates a DecisionClient over an existing connection.
// The caller keeps ownership of cc.
func NewDecisionClientWithConn(cc grpc.ClientConnInterface) *DecisionClient {
	return &DecisionClient{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client opened it.
func (c *DecisionClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region decide
// Decide sends a context and returns the engine's action.
func (c *DecisionClient) Decide(ctx context.Context, values map[string]any) (DecideResult, error) {
	inner, err := structpb.NewStruct(values)
	if err != nil {
		return DecideResult{}, fmt.Errorf("decide request: %w", err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{"context": structpb.NewStructValue(inner)}}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, decideMethod, req, resp); err != nil {
		return DecideResult{}, fmt.Errorf("decide rpc: %w", err)
	}
	f := resp.GetFields()
	return DecideResult{
		Action: f["action"].GetStringValue(),
		Source: f["source"].GetStringValue(),
		Seq:    uint64(f["seq"].GetNumberValue()),
		ID:     f["id"].GetStringValue(),
	}, nil
}

// #endregion decide

// #region status
// Status fetches the engine's state and counters.
func (c *DecisionClient) Status(ctx context.Context) (StatusResult, error) {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &emptypb.Empty{}, resp); err != nil {
		return StatusResult{}, fmt.Errorf("status rpc: %w", err)
	}
	f := resp.GetFields()
	out := StatusResult{
		State:         f["state"].GetStringValue(),
		PolicyKind:    f["policy_kind"].GetStringValue(),
		LogSize:       int(f["log_size"].GetNumberValue()),
		Interactions:  uint64(f["interactions"].GetNumberValue()),
		RetrainCycles: uint64(f["retrain_cycles"].GetNumberValue()),
		ModelVersion:  f["model_version"].GetStringValue(),
	}
	if last := f["last_retrain"].GetStructValue(); last != nil {
		out.LastRetrain = last.AsMap()
	}
	return out, nil
}

// #endregion status
