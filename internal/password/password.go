// Пакет password — хэширование и проверка паролей доступа через bcrypt.
// Открытый пароль никогда не сохраняется; сравнение выполняется
// bcrypt-ом (соль + константное время), не строковым равенством.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// cost — стоимость bcrypt. Совпадает с bcrypt.DefaultCost (10).
const cost = bcrypt.DefaultCost

// Hash возвращает bcrypt-хэш пароля.
func Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(digest), nil
}

// Compare проверяет пароль против хэша.
// Возвращает true при совпадении, false при несовпадении или
// некорректном хэше.
func Compare(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
