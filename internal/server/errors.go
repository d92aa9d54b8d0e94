package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/iamvkosarev/replica-relay/internal/usecase"
	"github.com/iamvkosarev/replica-relay/pkg/local"
)

var (
	errMalformedRequest = errors.New("malformed request body")
	errBodyTooLarge     = errors.New("request body too large")
)

var (
	textPersonaNotFound = local.NewSet(
		"Replica not found",
		local.NewTrans(local.Rus, "Реплика не найдена"),
	)
	textRateLimited = local.NewSet(
		"Rate limit exceeded. Please try again later.",
		local.NewTrans(local.Rus, "Превышен лимит запросов. Попробуйте позже."),
	)
	textQuotaExhausted = local.NewSet(
		"AI credits exhausted. Please add funds.",
		local.NewTrans(local.Rus, "Кредиты AI исчерпаны. Пополните баланс."),
	)
	textGatewayError = local.NewSet(
		"AI gateway error",
		local.NewTrans(local.Rus, "Ошибка AI шлюза"),
	)
	textMalformedRequest = local.NewSet(
		"Invalid request body",
		local.NewTrans(local.Rus, "Некорректное тело запроса"),
	)
	textBodyTooLarge = local.NewSet(
		"Request body too large",
		local.NewTrans(local.Rus, "Слишком большое тело запроса"),
	)
	textEmptyConversation = local.NewSet(
		"Conversation is empty",
		local.NewTrans(local.Rus, "Переписка пуста"),
	)
	textInvalidRole = local.NewSet(
		"Messages must have role user or assistant",
		local.NewTrans(local.Rus, "Роль сообщения должна быть user или assistant"),
	)
	textNotConfigured = local.NewSet(
		"Relay is not configured",
		local.NewTrans(local.Rus, "Сервис не настроен"),
	)
	textUnknownError = local.NewSet(
		"Unknown error",
		local.NewTrans(local.Rus, "Неизвестная ошибка"),
	)
)

// errorStatus maps a dispatch error onto the status code and the text shown
// to the caller.
func errorStatus(err error) (int, local.TextSet) {
	switch {
	case errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest, textMalformedRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, textBodyTooLarge
	case errors.Is(err, model.ErrEmptyConversation):
		return http.StatusBadRequest, textEmptyConversation
	case errors.Is(err, model.ErrInvalidRole):
		return http.StatusBadRequest, textInvalidRole
	case errors.Is(err, model.ErrPersonaNotFound):
		return http.StatusNotFound, textPersonaNotFound
	case errors.Is(err, usecase.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests, textRateLimited
	case errors.Is(err, usecase.ErrUpstreamQuotaExhausted):
		return http.StatusPaymentRequired, textQuotaExhausted
	case errors.Is(err, usecase.ErrUpstreamFailure):
		return http.StatusInternalServerError, textGatewayError
	case errors.Is(err, usecase.ErrGatewayNotConfigured):
		return http.StatusInternalServerError, textNotConfigured
	default:
		return http.StatusInternalServerError, textUnknownError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, text local.TextSet) {
	lang := local.FromAcceptLanguage(r.Header.Get("Accept-Language"))
	writeJSON(w, status, errorBody{Error: text.Text(lang)})
}
