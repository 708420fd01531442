// Package refcode генерирует реферальные коды пользователей.
package refcode

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
)

// suffixBytes задаёт число случайных байт в суффиксе кода.
const suffixBytes = 3

// Generator строит реферальный код по идентификатору пользователя.
type Generator func(userID int64) (string, error)

// Generate возвращает код вида <id в hex><6 случайных hex-символов>.
func Generate(userID int64) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("refcode: invalid user id %d", userID)
	}

	suffix := make([]byte, suffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("refcode: read random: %w", err)
	}

	return strconv.FormatInt(userID, 16) + hex.EncodeToString(suffix), nil
}
