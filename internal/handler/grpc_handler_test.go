package handler_test

import (
	"context"
	"net"
	"testing"

	"go.uber.org/mock/gomock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-exp-expenses/internal/handler"
	"github.com/pesio-ai/be-exp-expenses/internal/handler/mocks"
	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
)

// asUser attaches a fixed principal in place of token verification.
func asUser(uc *auth.UserContext) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if uc == nil {
			return next(ctx, req)
		}
		return next(auth.WithUserContext(ctx, uc), req)
	}
}

func dialBufconn(t *testing.T, approvals handler.ApprovalService, expenses handler.ExpenseService, uc *auth.UserContext) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(asUser(uc)))
	handler.RegisterApprovalServiceServer(srv, handler.NewGRPCHandler(approvals, expenses, logger.Nop().Logger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+handler.ApprovalServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPC_GetExpense(t *testing.T) {
	ctrl := gomock.NewController(t)
	expenses := mocks.NewMockExpenseService(ctrl)
	conn := dialBufconn(t, mocks.NewMockApprovalService(ctrl), expenses, &auth.UserContext{UserID: 10, Role: auth.RoleUser})

	expenses.EXPECT().GetExpense(gomock.Any(), int64(5)).Return(sampleExpense(), nil).Times(2)

	for _, id := range []any{5, "5"} {
		out, err := invoke(conn, "GetExpense", map[string]any{"id": id})
		if err != nil {
			t.Fatalf("GetExpense(%v): %v", id, err)
		}
		expense := out.GetFields()["expense"].GetStructValue()
		if expense.GetFields()["status"].GetStringValue() != "IN_REVIEW" {
			t.Fatalf("expense = %v", expense)
		}
		if expense.GetFields()["amount"].GetStringValue() != "500000" {
			t.Fatalf("amount = %v", expense.GetFields()["amount"])
		}
	}
}

func TestGRPC_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := dialBufconn(t, mocks.NewMockApprovalService(ctrl), mocks.NewMockExpenseService(ctrl), &auth.UserContext{UserID: 10})

	for _, req := range []map[string]any{{}, {"id": -1}, {"id": 1.5}, {"id": "x"}} {
		_, err := invoke(conn, "GetExpense", req)
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("GetExpense(%v) code = %v, want InvalidArgument", req, status.Code(err))
		}
	}
}

func TestGRPC_ResolveMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		svcErr error
		want   codes.Code
	}{
		{"ok", nil, codes.OK},
		{"already processed", errors.Conflict("approval already processed"), codes.FailedPrecondition},
		{"not approver", errors.Forbidden("not authorized to resolve this approval"), codes.PermissionDenied},
		{"missing", errors.NotFound("approval", 7), codes.NotFound},
		{"internal", errors.New(errors.ErrCodeInternal, "db exploded"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			approvals := mocks.NewMockApprovalService(ctrl)
			conn := dialBufconn(t, approvals, mocks.NewMockExpenseService(ctrl), &auth.UserContext{UserID: 2, Role: auth.RoleApprover})

			var ret *repository.Approval
			if tt.svcErr == nil {
				ret = &repository.Approval{ID: 7, ExpenseID: 5, ApproverID: 2, Status: repository.ApprovalStatusRejected}
			}
			approvals.EXPECT().Reject(gomock.Any(), int64(7), gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ int64, uc *auth.UserContext, comment *string) (*repository.Approval, error) {
					if uc.UserID != 2 {
						t.Errorf("actor = %d", uc.UserID)
					}
					if comment == nil || *comment != "중복 청구" {
						t.Errorf("comment = %v", comment)
					}
					return ret, tt.svcErr
				})

			out, err := invoke(conn, "RejectExpense", map[string]any{"id": 7, "comment": "중복 청구"})
			if status.Code(err) != tt.want {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), tt.want, err)
			}
			if tt.want == codes.Internal && status.Convert(err).Message() != "internal server error" {
				t.Fatalf("internal message leaked: %q", status.Convert(err).Message())
			}
			if err == nil && out.GetFields()["approval"].GetStructValue().GetFields()["status"].GetStringValue() != "REJECTED" {
				t.Fatalf("approval = %v", out)
			}
		})
	}
}

func TestGRPC_ApproveRequiresUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := dialBufconn(t, mocks.NewMockApprovalService(ctrl), mocks.NewMockExpenseService(ctrl), nil)

	_, err := invoke(conn, "ApproveExpense", map[string]any{"id": 7})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}
