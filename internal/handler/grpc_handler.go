package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// ApprovalServiceName is the fully qualified gRPC service name.
const ApprovalServiceName = "expenses.v1.ApprovalService"

// ApprovalServiceServer is the gRPC surface of the approval workflow. Messages
// are google.protobuf.Struct values shaped like the HTTP JSON bodies.
type ApprovalServiceServer interface {
	GetExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ApproveExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RejectExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalServiceServer to grpc.Server.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetExpense", Handler: unaryHandler("GetExpense", ApprovalServiceServer.GetExpense)},
		{MethodName: "ApproveExpense", Handler: unaryHandler("ApproveExpense", ApprovalServiceServer.ApproveExpense)},
		{MethodName: "RejectExpense", Handler: unaryHandler("RejectExpense", ApprovalServiceServer.RejectExpense)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expenses/v1/approval.proto",
}

// RegisterApprovalServiceServer registers srv on s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

func unaryHandler(
	method string,
	call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	fullMethod := "/" + ApprovalServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	approvals ApprovalService
	expenses  ExpenseService
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals ApprovalService, expenses ExpenseService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		expenses:  expenses,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// GetExpense returns {"expense": {...}} for {"id": n}.
func (h *GRPCHandler) GetExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := structID(req, "id")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	expense, err := h.expenses.GetExpense(ctx, id)
	if err != nil {
		return nil, h.fail(err, "Failed to get expense")
	}
	return toStruct(map[string]any{"expense": expense})
}

// ApproveExpense approves {"id": approvalId, "comment"?: "..."}.
func (h *GRPCHandler) ApproveExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.resolve(ctx, req, h.approvals.Approve, "approve")
}

// RejectExpense rejects {"id": approvalId, "comment"?: "..."}.
func (h *GRPCHandler) RejectExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.resolve(ctx, req, h.approvals.Reject, "reject")
}

func (h *GRPCHandler) resolve(ctx context.Context, req *structpb.Struct, fn resolveFunc, action string) (*structpb.Struct, error) {
	uc, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	id, err := structID(req, "id")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Int64("approval_id", id).
		Int64("acted_by", uc.UserID).
		Str("action", action).
		Msg("gRPC resolve called")

	var comment *string
	if v, ok := req.GetFields()["comment"]; ok {
		if s := v.GetStringValue(); s != "" {
			comment = &s
		}
	}

	approval, err := fn(ctx, id, uc, comment)
	if err != nil {
		return nil, h.fail(err, "Failed to resolve approval")
	}
	return toStruct(map[string]any{"approval": approval})
}

func (h *GRPCHandler) fail(err error, msg string) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.logger.Error().Err(err).Msg(msg)
	}
	return mapErrorToGRPC(err)
}

// structID reads a positive integer field given as a number or a string.
func structID(req *structpb.Struct, field string) (int64, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return 0, errors.InvalidInput(field, field+" is required")
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := int64(k.NumberValue)
		if n > 0 && float64(n) == k.NumberValue {
			return n, nil
		}
	case *structpb.Value_StringValue:
		if n, err := strconv.ParseInt(strings.TrimSpace(k.StringValue), 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.InvalidInput(field, fmt.Sprintf("invalid %s", field))
}

// toStruct converts v through its JSON form so gRPC and HTTP bodies match.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	return s, nil
}
