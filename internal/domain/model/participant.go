package model

// Participant — удалённая база данных, сотрудничающая с базой хоста.
// Хранится в таблице COOP_PARTICIPANT базы хоста.
type Participant struct {
	// InternalID — локальный идентификатор у хоста (UUID, стабилен)
	InternalID string
	// Alias — имя участника, уникальное в пределах базы
	Alias string
	// IP4Address — сетевой адрес участника
	IP4Address string
	// Port — порт участника
	Port int
	// HTTPAddr — HTTP-адрес сервиса данных участника
	HTTPAddr string
	// HTTPPort — HTTP-порт сервиса данных участника
	HTTPPort int
	// ContractStatus — статус контракта
	ContractStatus ContractStatus
	// AcceptedContractVersion — версия принятого контракта (nil до принятия)
	AcceptedContractVersion *string
	// Token — учётные данные участника для последующих вызовов
	Token []byte
	// ParticipantID — идентификатор, сообщённый участником при принятии
	ParticipantID *string
}
