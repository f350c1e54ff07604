package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"campusvote/internal/logs"
	"campusvote/internal/metrics"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Logger пишет строку на каждый запрос и считает его в метриках (m может быть nil).
func Logger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			d := time.Since(start)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, sw.status, d)
			logs.Logger.WithFields(logrus.Fields{
				"reqid":  GetRequestID(r),
				"method": r.Method,
				"uri":    r.RequestURI,
				"status": sw.status,
				"bytes":  sw.bytes,
				"dur":    d.String(),
				"ip":     GetClientIP(r),
			}).Info("http request")
		})
	}
}
