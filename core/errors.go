package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	QueueErrorBadInput          = "QUEUE_BAD_INPUT"
	QueueErrorWebhookNotFound   = "QUEUE_WEBHOOK_NOT_FOUND"
	QueueErrorSignatureInvalid  = "QUEUE_SIGNATURE_INVALID"
	QueueErrorHandlerMissing    = "QUEUE_HANDLER_NOT_REGISTERED"
	QueueErrorHandlerFailed     = "QUEUE_HANDLER_FAILED"
	QueueErrorEventNotFound     = "QUEUE_EVENT_NOT_FOUND"
	QueueErrorRemoteCallFailed  = "QUEUE_REMOTE_CALL_FAILED"
	QueueErrorInternal          = "QUEUE_INTERNAL_ERROR"
)

// queueErrorMapper maps arbitrary errors onto the module taxonomy:
// configuration errors (unknown webhook, unregistered handler) surface as
// not-found/internal envelopes, authentication errors as 401, handler
// execution errors as operation failures.
func queueErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureQueueErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "webhook config not found"):
		return newQueueError(err.Error(), goerrors.CategoryNotFound, QueueErrorWebhookNotFound)
	case strings.Contains(msg, "event not found"):
		return newQueueError(err.Error(), goerrors.CategoryNotFound, QueueErrorEventNotFound)
	case strings.Contains(msg, "signature"):
		return newQueueError(err.Error(), goerrors.CategoryAuth, QueueErrorSignatureInvalid)
	case strings.Contains(msg, "handler not registered"):
		return newQueueError(err.Error(), goerrors.CategoryInternal, QueueErrorHandlerMissing)
	case strings.Contains(msg, "handler"):
		return newQueueError(err.Error(), goerrors.CategoryOperation, QueueErrorHandlerFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newQueueError(err.Error(), goerrors.CategoryBadInput, QueueErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureQueueErrorEnvelope(mapped)
}

func newQueueError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureQueueErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureQueueErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = queueHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultQueueTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultQueueTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return QueueErrorBadInput
	case goerrors.CategoryNotFound:
		return QueueErrorWebhookNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return QueueErrorSignatureInvalid
	case goerrors.CategoryOperation:
		return QueueErrorHandlerFailed
	case goerrors.CategoryExternal:
		return QueueErrorRemoteCallFailed
	default:
		return QueueErrorInternal
	}
}

func queueHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapError exposes the taxonomy mapping to the gateway and HTTP layer.
func MapError(err error) *goerrors.Error {
	return queueErrorMapper(err)
}
