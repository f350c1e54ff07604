package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"campusvote/internal/apperr"
)

const maxBody = 1 << 20

// decodeJSON читает тело запроса в dst. Пустое тело — не ошибка.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Field("body", "Invalid JSON payload.")
	}
	return nil
}

// form — строковые поля тела запроса и накопленные ошибки по полям.
type form struct {
	values map[string]string
	errs   map[string]any
}

func parseForm(r *http.Request) (*form, error) {
	raw := map[string]any{}
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	f := &form{values: make(map[string]string, len(raw)), errs: map[string]any{}}
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			f.values[k] = t
		case json.Number:
			f.values[k] = t.String()
		}
	}
	return f, nil
}

func (f *form) get(name string) string { return strings.TrimSpace(f.values[name]) }

func (f *form) fail(name, msg string) {
	if _, ok := f.errs[name]; !ok {
		f.errs[name] = []string{msg}
	}
}

func (f *form) required(names ...string) {
	for _, n := range names {
		if f.get(n) == "" {
			f.fail(n, "This field is required.")
		}
	}
}

func (f *form) email(name string) string {
	v := f.get(name)
	if v == "" {
		f.required(name)
		return ""
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		f.fail(name, "Enter a valid email address.")
		return ""
	}
	return strings.ToLower(v)
}

const matricMaxLen = 16

func (f *form) matriculation(name string, pattern *regexp.Regexp, required bool) string {
	v := f.get(name)
	if v == "" {
		if required {
			f.required(name)
		}
		return ""
	}
	if len(v) > matricMaxLen || (pattern != nil && !pattern.MatchString(v)) {
		f.fail(name, "Invalid matriculation number. It should be in the format: ABC/123456/2024")
		return ""
	}
	return strings.ToUpper(v)
}

func (f *form) otp(name string, length int) string {
	v := f.get(name)
	if v == "" {
		f.required(name)
		return ""
	}
	if length > 0 && len(v) > length {
		f.fail(name, "Ensure this value has at most "+strconv.Itoa(length)+" characters.")
		return ""
	}
	return v
}

func (f *form) err() error {
	if len(f.errs) == 0 {
		return nil
	}
	return apperr.Validation("", f.errs)
}
