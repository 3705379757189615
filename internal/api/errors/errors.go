// Пакет errors — конструкторы стандартных ошибок API AnonShare.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, исторически так

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeExpired               = "EXPIRED"
	CodeDownloadLimitReached  = "DOWNLOAD_LIMIT_REACHED"
	CodePasswordRequired      = "PASSWORD_REQUIRED"
	CodeInvalidCredential     = "INVALID_CREDENTIAL"
	CodeMalformedToken        = "MALFORMED_TOKEN"
	CodePortInUse             = "PORT_IN_USE"
	CodeNetworkOriginRejected = "NETWORK_ORIGIN_REJECTED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeFileTooLarge          = "FILE_TOO_LARGE"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 сессия/ресурс/порт не найдены.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Expired — 410 срок жизни сессии истёк.
func Expired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeExpired, message)
}

// DownloadLimitReached — 403 лимит скачиваний исчерпан.
func DownloadLimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeDownloadLimitReached, message)
}

// PasswordRequired — 401 ресурс защищён паролем, пароль не передан.
func PasswordRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodePasswordRequired, message)
}

// InvalidCredential — 401 неверный пароль.
func InvalidCredential(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidCredential, message)
}

// MalformedToken — 400 connection-токен не декодируется.
func MalformedToken(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMalformedToken, message)
}

// PortInUse — 409 порт уже занят другим локальным сервером.
func PortInUse(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodePortInUse, message)
}

// NetworkOriginRejected — 403 запрос не из локальной сети.
func NetworkOriginRejected(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeNetworkOriginRejected, message)
}

// StoreUnavailable — 503 хранилище временно недоступно, можно повторить.
func StoreUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// RateLimited — 429 превышена частота запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
