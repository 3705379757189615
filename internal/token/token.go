// Пакет token — кодек connection-токенов и генерация кодов доступа.
//
// Connection-токен — самодостаточная base64url-строка с параметрами
// прямого подключения (host, port, пароль). Нигде не хранится:
// расшифровать его может любой, у кого он есть, поэтому host
// обязан принадлежать локальной сети — токен с публичным адресом
// отклоняется на этапе декодирования, до любого сетевого вызова.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arturkryukov/anonshare/internal/netaddr"
)

// Ошибки кодека.
var (
	// ErrMalformedToken — токен не декодируется или не содержит обязательных полей.
	ErrMalformedToken = errors.New("некорректный connection-токен")
	// ErrNonPrivateHost — host токена не принадлежит локальной сети.
	ErrNonPrivateHost = errors.New("host вне локальной сети")
)

// Длины генерируемых кодов в байтах энтропии.
const (
	// accessCodeBytes — 6 байт → 8 символов base64url
	accessCodeBytes = 6
	// ownerTokenBytes — 32 байта → 43 символа base64url
	ownerTokenBytes = 32
)

// ConnectionToken — параметры прямого подключения к локальному серверу.
type ConnectionToken struct {
	// Host — LAN-адрес машины владельца
	Host string `json:"host"`
	// Port — порт локального сервера
	Port int `json:"port"`
	// FileName — отображаемое имя полезной нагрузки (опционально)
	FileName string `json:"fileName,omitempty"`
	// Password — пароль доступа, пустая строка = без пароля.
	// Передаётся открытым текстом: токен сам является секретом.
	Password string `json:"password,omitempty"`
	// IsText — true для текстового ресурса
	IsText bool `json:"isText"`
}

// Encode сериализует токен в base64url-строку.
// Симметричен Decode: Decode(Encode(x)) == x для любого валидного x.
func Encode(tok ConnectionToken) (string, error) {
	if tok.Host == "" {
		return "", fmt.Errorf("%w: host не задан", ErrMalformedToken)
	}
	if tok.Port <= 0 || tok.Port > 65535 {
		return "", fmt.Errorf("%w: некорректный порт %d", ErrMalformedToken, tok.Port)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации токена: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode разбирает base64url-строку в ConnectionToken.
// Возвращает ErrMalformedToken для любого некорректного входа
// (невалидный base64, невалидный JSON, отсутствующие обязательные поля)
// и ErrNonPrivateHost, когда host не принадлежит локальной сети.
// Никогда не возвращает частично заполненный токен вместе с ошибкой.
func Decode(s string) (*ConnectionToken, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: пустая строка", ErrMalformedToken)
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Токены, сгенерированные старыми клиентами, могут содержать padding
		data, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: невалидный base64", ErrMalformedToken)
		}
	}

	var tok ConnectionToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: невалидный JSON", ErrMalformedToken)
	}
	if tok.Host == "" {
		return nil, fmt.Errorf("%w: host не задан", ErrMalformedToken)
	}
	if tok.Port <= 0 || tok.Port > 65535 {
		return nil, fmt.Errorf("%w: некорректный порт %d", ErrMalformedToken, tok.Port)
	}
	if !netaddr.IsPrivate(tok.Host) {
		return nil, fmt.Errorf("%w: %s", ErrNonPrivateHost, tok.Host)
	}

	return &tok, nil
}

// NewAccessCode генерирует короткий публичный код доступа:
// 8 символов base64url из 6 случайных байт.
func NewAccessCode() (string, error) {
	return randomString(accessCodeBytes)
}

// NewOwnerToken генерирует длинный приватный токен владельца:
// 43 символа base64url из 32 случайных байт.
func NewOwnerToken() (string, error) {
	return randomString(ownerTokenBytes)
}

// NewSessionID генерирует внутренний идентификатор сессии (UUID v4).
func NewSessionID() string {
	return uuid.New().String()
}

// randomString возвращает base64url-представление n случайных байт.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации случайных байт: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
