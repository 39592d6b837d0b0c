// Package middleware содержит HTTP-обёртки, общие для всех маршрутов:
// логирование запросов, перехват паник и ограничение частоты по пользователю.
package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// statusRecorder запоминает код ответа, записанный обработчиком.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger пишет каждый запрос на уровне Debug: метод, путь, статус, длительность
// и пользователя, если есть заголовок X-User-ID.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(started).Round(time.Microsecond),
		}
		if user := r.Header.Get(UserHeader); user != "" {
			fields["user_id"] = user
		}
		entry := log.WithFields(fields)
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	})
}
