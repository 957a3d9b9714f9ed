package model

import "time"

// HostInfo — идентичность процесса rcd.
// Одна запись в таблице rcd_host_info, генерируется однократно.
type HostInfo struct {
	ID        string
	Name      string
	Token     []byte
	CreatedAt time.Time
}

// IsZero сообщает, что идентичность ещё не сгенерирована.
func (h HostInfo) IsZero() bool {
	return h.ID == ""
}

// Credentials — пара имя/токен, предъявляемая удалённой стороной.
type Credentials struct {
	UserName string
	Password string
	Token    string
}

// Login — учётная запись клиента.
type Login struct {
	UserName     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// IssuedToken — выданный клиенту JWT.
type IssuedToken struct {
	TokenID   string
	UserName  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
