package middleware

import (
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/ratelimit"
)

// UserHeader несёт ID действующего пользователя.
const UserHeader = "X-User-ID"

// UserID разбирает заголовок X-User-ID. Возвращает false, если заголовка нет
// или он не положительное целое.
func UserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// RateLimit отвечает 429 на запросы сверх лимита.
// Запросы без пользователя проходят дальше; их отклонит обработчик.
// Сбой лимитера пропускает запрос.
func RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := l.Allow(r.Context(), userID)
			if err != nil {
				log.WithError(err).WithField("user_id", userID).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				log.WithField("user_id", userID).Debug("rate limited")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests","kind":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
