// Package totp — коды HOTP/TOTP (RFC 4226 / RFC 6238) поверх models.OTPSecret.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"campusvote/internal/models"
)

// KeySize — длина ключа в байтах (в БД хранится hex, 40 символов).
const KeySize = 20

// Origin — источник запроса. nil означает "вне контекста запроса".
type Origin struct {
	IP string
}

// NewKey генерирует случайный hex-ключ.
func NewKey() (string, error) {
	var raw [KeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("totp key: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Counter — номер шага: floor(unix / step).
func Counter(now time.Time, step int) int64 {
	if step <= 0 {
		step = 1
	}
	return now.Unix() / int64(step)
}

// Code — HOTP для counter, дополненный нулями до digits.
func Code(key []byte, counter int64, digits int) string {
	return pad(value(key, counter, digits), digits)
}

func value(key []byte, counter int64, digits int) uint64 {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	bin := uint64(sum[off]&0x7f)<<24 |
		uint64(sum[off+1])<<16 |
		uint64(sum[off+2])<<8 |
		uint64(sum[off+3])
	return bin % pow10(digits)
}

func pad(v uint64, digits int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	}
	return s
}

func pow10(n int) uint64 {
	p := uint64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// KeyBytes декодирует hex-ключ секрета; не-hex ключ используется как есть.
func KeyBytes(s *models.OTPSecret) []byte {
	if b, err := hex.DecodeString(s.Key); err == nil {
		return b
	}
	return []byte(s.Key)
}

// Token — текущий код секрета.
func Token(s *models.OTPSecret, now time.Time) string {
	return Code(KeyBytes(s), Counter(now, s.ValidityPeriod), s.Length)
}

// Verify проверяет код. При успехе LastVerifiedCounter сдвигается на
// найденный шаг и он же возвращается. Сохранение — забота вызывающего.
//
// Секрет с CreatedAt живёт ValidityPeriod*(tolerance+1) секунд от создания,
// а не до границы шага: принимается и шаг, в котором он создан.
func Verify(s *models.OTPSecret, submitted string, now time.Time, origin *Origin, tolerance int) (int64, bool) {
	want, err := strconv.ParseInt(strings.TrimSpace(submitted), 10, 64)
	if err != nil || want < 0 {
		return 0, false
	}
	if !originAllowed(s, origin) {
		return 0, false
	}
	if tolerance < 0 {
		tolerance = 0
	}

	key := KeyBytes(s)
	t := Counter(now, s.ValidityPeriod)
	lo, hi := t-int64(tolerance), t+int64(tolerance)
	if !s.CreatedAt.IsZero() {
		if Expired(s, now, tolerance) {
			return 0, false
		}
		if born := Counter(s.CreatedAt, s.ValidityPeriod); born < lo {
			lo = born
		}
	}
	for c := lo; c <= hi; c++ {
		if c < 0 || c <= s.LastVerifiedCounter {
			continue
		}
		if value(key, c, s.Length) == uint64(want) {
			s.LastVerifiedCounter = c
			return c, true
		}
	}
	return 0, false
}

// Expired — секрет старше своего срока жизни.
func Expired(s *models.OTPSecret, now time.Time, tolerance int) bool {
	if tolerance < 0 {
		tolerance = 0
	}
	life := time.Duration(s.ValidityPeriod) * time.Second * time.Duration(tolerance+1)
	return now.Sub(s.CreatedAt) > life
}

// проверка привязки к IP: при наличии IP у секрета и контекста запроса
// адреса должны совпасть; пустой/битый адрес — отказ
func originAllowed(s *models.OTPSecret, origin *Origin) bool {
	if s.RequestorIPAddress == nil || origin == nil {
		return true
	}
	got, ok := NormalizeIP(origin.IP)
	if !ok {
		return false
	}
	stored, ok := NormalizeIP(*s.RequestorIPAddress)
	if !ok {
		return false
	}
	return got == stored
}

// NormalizeIP приводит адрес к канонической форме (IPv4-in-IPv6 -> IPv4).
// Допускает "host:port".
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		ap, perr := netip.ParseAddrPort(raw)
		if perr != nil {
			return "", false
		}
		addr = ap.Addr()
	}
	return addr.Unmap().WithZone("").String(), true
}
