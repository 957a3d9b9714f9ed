package service

import (
	"context"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// RemoteClient — исходящие вызовы к хостам и участникам.
// Реализуется *rcdclient.Client.
type RemoteClient interface {
	SaveContract(ctx context.Context, baseURL string, req *wire.SaveContractRequest) (*wire.SaveContractReply, error)
	AcceptContract(ctx context.Context, baseURL string, req *wire.AcceptContractRequest) (*wire.AcceptContractReply, error)
	RejectContract(ctx context.Context, baseURL string, req *wire.RejectContractRequest) (*wire.RejectContractReply, error)
	InsertData(ctx context.Context, baseURL string, req *wire.InsertDataRequest) (*wire.InsertDataReply, error)
	UpdateData(ctx context.Context, baseURL string, req *wire.UpdateDataRequest) (*wire.UpdateDataReply, error)
	DeleteData(ctx context.Context, baseURL string, req *wire.DeleteDataRequest) (*wire.DeleteDataReply, error)
	GetRows(ctx context.Context, baseURL string, req *wire.GetRowRequest) (*wire.GetRowReply, error)
	UpdateRowHash(ctx context.Context, baseURL string, req *wire.UpdateRowHashRequest) (*wire.UpdateRowHashReply, error)
	NotifyRowRemoved(ctx context.Context, baseURL string, req *wire.NotifyRowRemovedRequest) (*wire.NotifyRowRemovedReply, error)
}

var _ RemoteClient = (*rcdclient.Client)(nil)

// checkReply переводит отказ удалённой стороны в ошибку.
func checkReply(op string, reply wire.Reply) error {
	base := reply.Base()
	if !base.AuthenticationResult.IsAuthenticated {
		return fmt.Errorf("%s: %w", op, ErrAuthenticationFailure)
	}
	if !base.IsSuccessful {
		if base.Message == "" {
			return fmt.Errorf("%s: удалённая сторона вернула отказ", op)
		}
		return fmt.Errorf("%s: %s", op, base.Message)
	}
	return nil
}
