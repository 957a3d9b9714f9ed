package model

import "time"

// Contract — соглашение хоста о совместном использовании схемы базы данных.
// Хранится в таблице COOP_DATABASE_CONTRACT базы хоста.
// Для базы данных не более одного контракта с RetiredAt == nil.
type Contract struct {
	// ContractID — идентификатор контракта (новый при каждой генерации)
	ContractID string
	// VersionID — идентификатор версии, уникален для каждой генерации
	VersionID string
	// GeneratedAt — время генерации (UTC)
	GeneratedAt time.Time
	// Description — описание условий
	Description string
	// RetiredAt — время вывода из действия (nil — активный контракт)
	RetiredAt *time.Time
	// RemoteDeleteBehavior — поведение хоста при удалении строки участником
	RemoteDeleteBehavior RemoteDeleteBehavior
	// Schema — снимок схемы на момент генерации
	Schema *DatabaseSchema
}

// IsActive сообщает, действует ли контракт.
func (c *Contract) IsActive() bool {
	return c.RetiredAt == nil
}

// HostIdentity — сетевая идентичность хоста, передаваемая участникам.
type HostIdentity struct {
	HostID   string `json:"host_guid"`
	HostName string `json:"host_name"`
	Token    []byte `json:"token"`
	IP4      string `json:"ip4_address"`
	Port     int    `json:"database_port_number"`
	HTTPAddr string `json:"http_addr"`
	HTTPPort int    `json:"http_port"`
}

// CachedContract — контракт, полученный участником от хоста.
// Хранится в системной таблице cds_contracts до принятия или отклонения.
type CachedContract struct {
	ContractID           string
	VersionID            string
	Description          string
	GeneratedAt          time.Time
	RemoteDeleteBehavior RemoteDeleteBehavior
	// DatabaseName — имя базы данных у хоста
	DatabaseName string
	DatabaseID   string
	// ParticipantAlias — псевдоним, под которым хост знает этого участника
	ParticipantAlias string
	Status           ContractStatus
	Schema           *DatabaseSchema
	Host             HostIdentity
	ReceivedAt       time.Time
	DecidedAt        *time.Time
}
