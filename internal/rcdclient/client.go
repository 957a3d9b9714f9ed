// Пакет rcdclient — HTTP-клиент межузловых операций rcd (хост↔участник).
// Каждый вызов ограничен таймаутом RCD_REMOTE_TIMEOUT; поддерживается TLS
// с кастомным CA (RCD_REMOTE_CA_CERT_PATH).
package rcdclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// ErrUnavailable — удалённый узел недоступен (сеть, таймаут, 5xx).
var ErrUnavailable = errors.New("удалённый узел недоступен")

// Метрики исходящих вызовов
var (
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcd_remote_calls_total",
			Help: "Количество исходящих вызовов к удалённым узлам rcd",
		},
		[]string{"operation", "result"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rcd_remote_call_duration_seconds",
			Help:    "Длительность исходящих вызовов к удалённым узлам rcd в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Client — HTTP-клиент межузловых операций.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(timeout time.Duration, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "rcd_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// BaseURL собирает адрес узла из HTTP-адреса и порта.
// Адрес со схемой используется как есть.
func BaseURL(addr string, port int) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if port > 0 {
		return "http://" + addr + ":" + strconv.Itoa(port)
	}
	return "http://" + addr
}

// call выполняет POST <baseURL>/data/v1/<op>.
// Ответ 200 и 401 декодируется в reply: отказ в аутентификации
// передаётся вызывающему через reply.authentication_result.
func (c *Client) call(ctx context.Context, baseURL, op string, req any, reply wire.Reply) error {
	start := time.Now()
	result := "ok"
	defer func() {
		remoteCallsTotal.WithLabelValues(op, result).Inc()
		remoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		result = "error"
		return fmt.Errorf("кодирование запроса %s: %w", op, err)
	}

	reqURL := strings.TrimRight(baseURL, "/") + wire.DataPrefix + op
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		result = "error"
		return fmt.Errorf("создание запроса %s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		result = "unavailable"
		c.logger.Warn("Удалённый узел недоступен",
			slog.String("operation", op),
			slog.String("url", baseURL),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= http.StatusInternalServerError {
			result = "unavailable"
			return fmt.Errorf("%w: %s %s вернул статус %d: %s", ErrUnavailable, op, baseURL, resp.StatusCode, string(msg))
		}
		result = "error"
		return fmt.Errorf("%s %s вернул статус %d: %s", op, baseURL, resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		result = "error"
		return fmt.Errorf("декодирование ответа %s от %s: %w", op, baseURL, err)
	}
	if !reply.Base().AuthenticationResult.IsAuthenticated {
		result = "unauthenticated"
	} else if !reply.Base().IsSuccessful {
		result = "failed"
	}
	return nil
}

// SaveContract отправляет контракт участнику.
func (c *Client) SaveContract(ctx context.Context, baseURL string, req *wire.SaveContractRequest) (*wire.SaveContractReply, error) {
	reply := &wire.SaveContractReply{}
	return reply, c.call(ctx, baseURL, wire.OpSaveContract, req, reply)
}

// AcceptContract сообщает хосту о принятии контракта.
func (c *Client) AcceptContract(ctx context.Context, baseURL string, req *wire.AcceptContractRequest) (*wire.AcceptContractReply, error) {
	reply := &wire.AcceptContractReply{}
	return reply, c.call(ctx, baseURL, wire.OpAcceptContract, req, reply)
}

// RejectContract сообщает хосту об отказе от контракта.
func (c *Client) RejectContract(ctx context.Context, baseURL string, req *wire.RejectContractRequest) (*wire.RejectContractReply, error) {
	reply := &wire.RejectContractReply{}
	return reply, c.call(ctx, baseURL, wire.OpRejectContract, req, reply)
}

// InsertData выполняет INSERT в частичной таблице участника.
func (c *Client) InsertData(ctx context.Context, baseURL string, req *wire.InsertDataRequest) (*wire.InsertDataReply, error) {
	reply := &wire.InsertDataReply{}
	return reply, c.call(ctx, baseURL, wire.OpInsertCommandIntoTable, req, reply)
}

// UpdateData выполняет UPDATE в частичной таблице участника.
func (c *Client) UpdateData(ctx context.Context, baseURL string, req *wire.UpdateDataRequest) (*wire.UpdateDataReply, error) {
	reply := &wire.UpdateDataReply{}
	return reply, c.call(ctx, baseURL, wire.OpUpdateCommandIntoTable, req, reply)
}

// DeleteData выполняет DELETE в частичной таблице участника.
func (c *Client) DeleteData(ctx context.Context, baseURL string, req *wire.DeleteDataRequest) (*wire.DeleteDataReply, error) {
	reply := &wire.DeleteDataReply{}
	return reply, c.call(ctx, baseURL, wire.OpDeleteCommandIntoTable, req, reply)
}

// GetRows читает строки частичной таблицы участника.
func (c *Client) GetRows(ctx context.Context, baseURL string, req *wire.GetRowRequest) (*wire.GetRowReply, error) {
	reply := &wire.GetRowReply{}
	return reply, c.call(ctx, baseURL, wire.OpGetRowFromPartialDatabase, req, reply)
}

// UpdateRowHash сообщает хосту новый хэш строки.
func (c *Client) UpdateRowHash(ctx context.Context, baseURL string, req *wire.UpdateRowHashRequest) (*wire.UpdateRowHashReply, error) {
	reply := &wire.UpdateRowHashReply{}
	return reply, c.call(ctx, baseURL, wire.OpUpdateRowDataHashForHost, req, reply)
}

// NotifyRowRemoved сообщает хосту об удалении строки.
func (c *Client) NotifyRowRemoved(ctx context.Context, baseURL string, req *wire.NotifyRowRemovedRequest) (*wire.NotifyRowRemovedReply, error) {
	reply := &wire.NotifyRowRemovedReply{}
	return reply, c.call(ctx, baseURL, wire.OpNotifyHostOfRemovedRow, req, reply)
}
