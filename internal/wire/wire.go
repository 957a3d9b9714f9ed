// Пакет wire — сообщения RPC rcd в JSON.
//
// Две группы операций: клиентская (POST /client/v1/<Операция>) и
// межузловая хост↔участник (POST /data/v1/<Операция>). Каждый запрос
// несёт учётные данные, каждый ответ — результат аутентификации,
// флаг успеха и текстовое сообщение.
package wire

import "encoding/hex"

// Префиксы путей групп операций.
const (
	ClientPrefix = "/client/v1/"
	DataPrefix   = "/data/v1/"
)

// AuthRequest — учётные данные запроса.
// Клиенты передают user_name + pw или JWT в token; узлы передают
// идентификатор (или псевдоним) и токен узла в hex.
type AuthRequest struct {
	UserName string `json:"user_name"`
	Pw       string `json:"pw,omitempty"`
	Token    string `json:"token,omitempty"`
}

// AuthResult — результат аутентификации, возвращаемый в каждом ответе.
type AuthResult struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	UserName        string `json:"user_name"`
	Token           string `json:"token,omitempty"`
	Message         string `json:"message,omitempty"`
}

// RequestBase встраивается в каждый запрос.
type RequestBase struct {
	Authentication AuthRequest `json:"authentication"`
}

// Auth возвращает учётные данные запроса.
func (r *RequestBase) Auth() AuthRequest { return r.Authentication }

// ReplyBase встраивается в каждый ответ.
type ReplyBase struct {
	AuthenticationResult AuthResult `json:"authentication_result"`
	IsSuccessful         bool       `json:"is_successful"`
	Message              string     `json:"message,omitempty"`
}

// SetAuth сохраняет результат аутентификации.
func (r *ReplyBase) SetAuth(a AuthResult) { r.AuthenticationResult = a }

// SetStatus сохраняет флаг успеха и сообщение.
func (r *ReplyBase) SetStatus(ok bool, message string) {
	r.IsSuccessful = ok
	r.Message = message
}

// Base возвращает общую часть ответа.
func (r *ReplyBase) Base() *ReplyBase { return r }

// Request — запрос любой операции.
type Request interface {
	Auth() AuthRequest
}

// Reply — ответ любой операции.
type Reply interface {
	SetAuth(a AuthResult)
	SetStatus(ok bool, message string)
	Base() *ReplyBase
}

// EncodeToken кодирует токен узла для передачи.
func EncodeToken(token []byte) string {
	return hex.EncodeToString(token)
}

// DecodeToken разбирает токен узла; некорректный токен — nil.
func DecodeToken(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// SagaResult — итог многошаговой операции без транзакции.
type SagaResult struct {
	Operation      string   `json:"operation"`
	CompletedSteps []string `json:"completed_steps"`
	FailedStep     string   `json:"failed_step,omitempty"`
	Cause          string   `json:"cause,omitempty"`
}
