package middleware

import (
	"context"
	"net/http"
	"strings"

	"campusvote/internal/totp"
)

// ClientIP кладёт адрес клиента в контекст. Заголовки прокси учитываются,
// только если trustProxy: иначе X-Forwarded-For подделывается клиентом.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		})
	}
}

func remoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// первый адрес в цепочке
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := totp.NormalizeIP(first); ok {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip, ok := totp.NormalizeIP(xri); ok {
				return ip
			}
		}
	}
	if ip, ok := totp.NormalizeIP(r.RemoteAddr); ok {
		return ip
	}
	return ""
}

// GetClientIP — адрес из контекста; без middleware — из RemoteAddr.
func GetClientIP(r *http.Request) string {
	if s, ok := r.Context().Value(clientIPKey).(string); ok {
		return s
	}
	return remoteIP(r, false)
}

// Origin — источник запроса для привязки OTP. Неизвестный адрес даёт
// Origin с пустым IP: проверка привязки его отвергает. nil только вне запроса.
func Origin(r *http.Request) *totp.Origin {
	return &totp.Origin{IP: GetClientIP(r)}
}
