// data.go — межузловая группа операций (POST /data/v1/<Операция>).
// Аутентификация и сама операция выполняются в service.PeerService.
package handlers

import (
	"net/http"

	"github.com/dynamoRando/rcd-sub000/internal/service"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// DataHandler — HTTP-обёртка над service.PeerService.
type DataHandler struct {
	peer *service.PeerService
}

// NewDataHandler создаёт обработчик межузловых операций.
func NewDataHandler(peer *service.PeerService) *DataHandler {
	return &DataHandler{peer: peer}
}

func (h *DataHandler) operations() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		wire.OpSaveContract:              h.SaveContract,
		wire.OpAcceptContract:            h.AcceptContract,
		wire.OpRejectContract:            h.RejectContract,
		wire.OpInsertCommandIntoTable:    h.InsertCommandIntoTable,
		wire.OpUpdateCommandIntoTable:    h.UpdateCommandIntoTable,
		wire.OpDeleteCommandIntoTable:    h.DeleteCommandIntoTable,
		wire.OpGetRowFromPartialDatabase: h.GetRowFromPartialDatabase,
		wire.OpUpdateRowDataHashForHost:  h.UpdateRowDataHashForHost,
		wire.OpNotifyHostOfRemovedRow:    h.NotifyHostOfRemovedRow,
		wire.OpCreatePartialDatabase:     h.CreatePartialDatabase,
		wire.OpCreateTableInDatabase:     h.CreateTableInDatabase,
	}
}

// SaveContract — хост отправляет контракт участнику.
func (h *DataHandler) SaveContract(w http.ResponseWriter, r *http.Request) {
	var req wire.SaveContractRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.SaveContract(r.Context(), &req))
	}
}

// AcceptContract — участник сообщает хосту о принятии контракта.
func (h *DataHandler) AcceptContract(w http.ResponseWriter, r *http.Request) {
	var req wire.AcceptContractRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.AcceptContract(r.Context(), &req))
	}
}

// RejectContract — участник сообщает хосту об отказе от контракта.
func (h *DataHandler) RejectContract(w http.ResponseWriter, r *http.Request) {
	var req wire.RejectContractRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.RejectContract(r.Context(), &req))
	}
}

// InsertCommandIntoTable — INSERT хоста в частичной таблице.
func (h *DataHandler) InsertCommandIntoTable(w http.ResponseWriter, r *http.Request) {
	var req wire.InsertDataRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.InsertData(r.Context(), &req))
	}
}

// UpdateCommandIntoTable — UPDATE хоста в частичной таблице.
func (h *DataHandler) UpdateCommandIntoTable(w http.ResponseWriter, r *http.Request) {
	var req wire.UpdateDataRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.UpdateData(r.Context(), &req))
	}
}

// DeleteCommandIntoTable — DELETE хоста в частичной таблице.
func (h *DataHandler) DeleteCommandIntoTable(w http.ResponseWriter, r *http.Request) {
	var req wire.DeleteDataRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.DeleteData(r.Context(), &req))
	}
}

// GetRowFromPartialDatabase — строки частичной таблицы с хэшами.
func (h *DataHandler) GetRowFromPartialDatabase(w http.ResponseWriter, r *http.Request) {
	var req wire.GetRowRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.GetRows(r.Context(), &req))
	}
}

// UpdateRowDataHashForHost — участник сообщает новый хэш строки.
func (h *DataHandler) UpdateRowDataHashForHost(w http.ResponseWriter, r *http.Request) {
	var req wire.UpdateRowHashRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.UpdateRowHash(r.Context(), &req))
	}
}

// NotifyHostOfRemovedRow — участник сообщает об удалении строки.
func (h *DataHandler) NotifyHostOfRemovedRow(w http.ResponseWriter, r *http.Request) {
	var req wire.NotifyRowRemovedRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.NotifyRowRemoved(r.Context(), &req))
	}
}

// CreatePartialDatabase — создание частичной базы по запросу хоста.
func (h *DataHandler) CreatePartialDatabase(w http.ResponseWriter, r *http.Request) {
	var req wire.CreatePartialDatabaseRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.CreatePartialDatabase(r.Context(), &req))
	}
}

// CreateTableInDatabase — создание частичной таблицы по запросу хоста.
func (h *DataHandler) CreateTableInDatabase(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateTableRequest
	if decode(w, r, &req) {
		writeReply(w, h.peer.CreateTable(r.Context(), &req))
	}
}
