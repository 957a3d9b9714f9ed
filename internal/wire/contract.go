package wire

import (
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// Contract — контракт в том виде, в котором он передаётся участнику.
type Contract struct {
	ContractGUID         string                `json:"contract_guid"`
	ContractVersion      string                `json:"contract_version"`
	Description          string                `json:"description"`
	GeneratedAt          time.Time             `json:"generated_date_utc"`
	RemoteDeleteBehavior int                   `json:"remote_delete_behavior"`
	Schema               *model.DatabaseSchema `json:"schema"`
	HostInfo             model.HostIdentity    `json:"host_info"`
	// Status — статус контракта для получателя (ContractStatus)
	Status int `json:"status"`
	// ParticipantAlias — псевдоним, под которым хост знает получателя
	ParticipantAlias string `json:"participant_alias"`
}

// NewContract собирает контракт для отправки: действующий контракт базы,
// актуальную схему и сетевую идентичность хоста.
func NewContract(c *model.Contract, schema *model.DatabaseSchema, host model.HostIdentity,
	status model.ContractStatus, alias string) Contract {
	return Contract{
		ContractGUID:         c.ContractID,
		ContractVersion:      c.VersionID,
		Description:          c.Description,
		GeneratedAt:          c.GeneratedAt.UTC(),
		RemoteDeleteBehavior: int(c.RemoteDeleteBehavior),
		Schema:               schema,
		HostInfo:             host,
		Status:               int(status),
		ParticipantAlias:     alias,
	}
}

// ToCached переводит полученный контракт в запись участника.
func (c Contract) ToCached(receivedAt time.Time) *model.CachedContract {
	cc := &model.CachedContract{
		ContractID:           c.ContractGUID,
		VersionID:            c.ContractVersion,
		Description:          c.Description,
		GeneratedAt:          c.GeneratedAt,
		RemoteDeleteBehavior: model.RemoteDeleteBehavior(c.RemoteDeleteBehavior),
		ParticipantAlias:     c.ParticipantAlias,
		Status:               model.ContractStatus(c.Status),
		Schema:               c.Schema,
		Host:                 c.HostInfo,
		ReceivedAt:           receivedAt,
	}
	if cc.Schema == nil {
		cc.Schema = &model.DatabaseSchema{}
	}
	cc.DatabaseName = cc.Schema.DatabaseName
	cc.DatabaseID = cc.Schema.DatabaseID
	return cc
}

// FromCached переводит сохранённый у участника контракт обратно в сообщение.
func FromCached(cc *model.CachedContract) Contract {
	return Contract{
		ContractGUID:         cc.ContractID,
		ContractVersion:      cc.VersionID,
		Description:          cc.Description,
		GeneratedAt:          cc.GeneratedAt.UTC(),
		RemoteDeleteBehavior: int(cc.RemoteDeleteBehavior),
		Schema:               cc.Schema,
		HostInfo:             cc.Host,
		Status:               int(cc.Status),
		ParticipantAlias:     cc.ParticipantAlias,
	}
}
