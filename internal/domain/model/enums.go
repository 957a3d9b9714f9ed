// Пакет model — доменные типы rcd: контракты, участники, политики хранения,
// журнал хэшей строк, очередь отложенных действий и идентичность хоста.
package model

import (
	"fmt"
	"strings"
)

// ContractStatus — статус контракта с точки зрения участника.
// Числовые значения передаются по сети и хранятся в БД.
type ContractStatus int

const (
	ContractStatusUnknown  ContractStatus = 0
	ContractStatusNotSent  ContractStatus = 1
	ContractStatusPending  ContractStatus = 2
	ContractStatusAccepted ContractStatus = 3
	ContractStatusRejected ContractStatus = 4
)

func (s ContractStatus) String() string {
	switch s {
	case ContractStatusNotSent:
		return "NotSent"
	case ContractStatusPending:
		return "Pending"
	case ContractStatusAccepted:
		return "Accepted"
	case ContractStatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// LogicalStoragePolicy — политика репликации таблицы.
type LogicalStoragePolicy int

const (
	// PolicyNone — политика не задана, репликации нет.
	PolicyNone LogicalStoragePolicy = 0
	// PolicyHostOnly — данные только у хоста.
	PolicyHostOnly LogicalStoragePolicy = 1
	// PolicyParticipantOwned — данные у участника, у хоста только хэш.
	PolicyParticipantOwned LogicalStoragePolicy = 2
	// PolicyShared — хост авторитетен, soft-delete маркеры распространяются.
	PolicyShared LogicalStoragePolicy = 3
	// PolicyMirror — полная репликация, hard delete распространяется.
	PolicyMirror LogicalStoragePolicy = 4
)

func (p LogicalStoragePolicy) String() string {
	switch p {
	case PolicyHostOnly:
		return "HostOnly"
	case PolicyParticipantOwned:
		return "ParticipantOwned"
	case PolicyShared:
		return "Shared"
	case PolicyMirror:
		return "Mirror"
	default:
		return "None"
	}
}

// IsCooperative сообщает, реплицируется ли таблица на участников.
// HostOnly и None кооперативными не являются.
func (p LogicalStoragePolicy) IsCooperative() bool {
	return p == PolicyMirror || p == PolicyParticipantOwned || p == PolicyShared
}

// Valid проверяет, что значение входит в перечисление.
func (p LogicalStoragePolicy) Valid() bool {
	return p >= PolicyNone && p <= PolicyMirror
}

// ParseLogicalStoragePolicy разбирает имя политики без учёта регистра.
func ParseLogicalStoragePolicy(s string) (LogicalStoragePolicy, error) {
	for p := PolicyNone; p <= PolicyMirror; p++ {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return PolicyNone, fmt.Errorf("неизвестная политика хранения %q", s)
}

// RemoteDeleteBehavior — поведение хоста при удалении строки участником.
type RemoteDeleteBehavior int

const (
	RemoteDeleteUnknown          RemoteDeleteBehavior = 0
	RemoteDeleteIgnore           RemoteDeleteBehavior = 1
	RemoteDeleteAutoDelete       RemoteDeleteBehavior = 2
	RemoteDeleteUpdateStatusOnly RemoteDeleteBehavior = 3
)

func (b RemoteDeleteBehavior) String() string {
	switch b {
	case RemoteDeleteIgnore:
		return "Ignore"
	case RemoteDeleteAutoDelete:
		return "AutoDelete"
	case RemoteDeleteUpdateStatusOnly:
		return "UpdateStatusOnly"
	default:
		return "Unknown"
	}
}

// PendingActionKind — тип отложенного действия.
type PendingActionKind int

const (
	ActionUnknown PendingActionKind = 0
	ActionUpdate  PendingActionKind = 1
	ActionDelete  PendingActionKind = 2
)

func (k PendingActionKind) String() string {
	switch k {
	case ActionUpdate:
		return "UPDATE"
	case ActionDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParsePendingActionKind разбирает "UPDATE"/"DELETE" без учёта регистра.
func ParsePendingActionKind(s string) (PendingActionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UPDATE":
		return ActionUpdate, nil
	case "DELETE":
		return ActionDelete, nil
	default:
		return ActionUnknown, fmt.Errorf("неизвестный тип действия %q", s)
	}
}

// UpdatesFromHostBehavior — реакция участника на UPDATE от хоста.
type UpdatesFromHostBehavior int

const (
	UpdatesFromHostUnknown          UpdatesFromHostBehavior = 0
	UpdatesFromHostAllowOverwrite   UpdatesFromHostBehavior = 1
	UpdatesFromHostQueueForReview   UpdatesFromHostBehavior = 2
	UpdatesFromHostOverwriteWithLog UpdatesFromHostBehavior = 3
	UpdatesFromHostIgnore           UpdatesFromHostBehavior = 4
)

// DeletesFromHostBehavior — реакция участника на DELETE от хоста.
type DeletesFromHostBehavior int

const (
	DeletesFromHostUnknown        DeletesFromHostBehavior = 0
	DeletesFromHostAllowRemoval   DeletesFromHostBehavior = 1
	DeletesFromHostQueueForReview DeletesFromHostBehavior = 2
	DeletesFromHostDeleteWithLog  DeletesFromHostBehavior = 3
	DeletesFromHostIgnore         DeletesFromHostBehavior = 4
)

// StatementKind — вид SQL-выражения.
type StatementKind int

const (
	StatementUnknown StatementKind = iota
	StatementSelect
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementDDL
	StatementOther
)

func (k StatementKind) String() string {
	switch k {
	case StatementSelect:
		return "SELECT"
	case StatementInsert:
		return "INSERT"
	case StatementUpdate:
		return "UPDATE"
	case StatementDelete:
		return "DELETE"
	case StatementDDL:
		return "DDL"
	case StatementOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}
