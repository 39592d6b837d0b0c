// Package api — auth.go закрывает админские маршруты basic auth с проверкой
// по хешу argon2id.
//
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
)

// AdminUser — имя пользователя basic auth для админских маршрутов.
const AdminUser = "admin"

// PasswordParams — параметры argon2id.
type PasswordParams struct {
	Memory      uint32 // КиБ
	Iterations  uint32
	Parallelism uint8
	SaltLength  int
	KeyLength   uint32
}

// DefaultPasswordParams: 64 МБ, 3 прохода, 2 потока.
var DefaultPasswordParams = PasswordParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword возвращает закодированный хеш argon2id пароля со случайной солью.
func HashPassword(password string, p PasswordParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword сверяет пароль с закодированным хешем argon2id за постоянное время.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("malformed argon2id hash")
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		log.WithField("version", parts[2]).Error("unsupported argon2 version")
		return false
	}

	var (
		memory      uint32
		iterations  uint32
		parallelism uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("failed to parse argon2id parameters")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("failed to decode argon2id salt")
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("failed to decode argon2id hash")
		return false
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// requireAdmin отклоняет запросы без верных учётных данных администратора.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(AdminUser)) != 1 ||
			!VerifyPassword(password, s.adminHash) {
			log.WithFields(log.Fields{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Warn("admin authentication failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="draft-auction admin"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
