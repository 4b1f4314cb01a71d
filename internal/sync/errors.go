package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tildaslashalef/obrasync/internal/remote"
)

// User-facing messages stored on failed items
const (
	MsgUnknown     = "Erro desconhecido. Tente novamente."
	MsgNetwork     = "Falha na conexão. Verifique sua internet e tente novamente."
	MsgUnreachable = "Não foi possível contactar o servidor. Tente novamente em instantes."
	MsgSession     = "Sessão expirada. Faça login novamente para sincronizar."
)

// PhotoUploadError fails an attempt in which no photo could be uploaded
type PhotoUploadError struct {
	Failed int
}

func (e *PhotoUploadError) Error() string {
	return fmt.Sprintf("Nenhuma foto pôde ser enviada (%d com falha). Verifique sua conexão e tente novamente.", e.Failed)
}

// ClassifyError maps an attempt error to the sync error taxonomy
func ClassifyError(err error) SyncErrorType {
	if err == nil {
		return ""
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuth():
			return SyncErrorTypeAuth
		case apiErr.StatusCode >= 500:
			return SyncErrorTypeServer
		default:
			return SyncErrorTypeClient
		}
	}
	if errors.Is(err, remote.ErrSessionExpired) {
		return SyncErrorTypeAuth
	}

	var photoErr *PhotoUploadError
	var netErr net.Error
	if errors.As(err, &photoErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return SyncErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authenticated"):
		return SyncErrorTypeAuth
	case strings.Contains(msg, "network request failed"), strings.Contains(msg, "fetch failed"):
		return SyncErrorTypeNetwork
	}
	return SyncErrorTypeUnknown
}

// TranslateError turns an attempt error into the message shown to the crew. Errors without
// a known cause are passed through verbatim.
func TranslateError(err error) string {
	if err == nil {
		return MsgUnknown
	}

	if ClassifyError(err) == SyncErrorTypeAuth {
		return MsgSession
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return MsgUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return MsgUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return MsgNetwork
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	return translateMessage(err.Error())
}

func translateMessage(message string) string {
	if strings.TrimSpace(message) == "" {
		return MsgUnknown
	}

	normalized := strings.ToLower(message)
	switch {
	case strings.Contains(normalized, "network request failed"):
		return MsgNetwork
	case strings.Contains(normalized, "fetch failed"):
		return MsgUnreachable
	case strings.Contains(normalized, "unauthorized"), strings.Contains(normalized, "not authenticated"):
		return MsgSession
	}
	return message
}
