package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fundledger/internal/core"
	"fundledger/internal/store"
)

var errMissingStatus = fmt.Errorf("%w: status is required", core.ErrValidation)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 500
)

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformed)
		}
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errMalformed)
	}
	return nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseAmount accepts decimal text such as "12.34" or "12,34".
func parseAmount(s string) (core.Money, error) {
	return core.ParseAmount(sanitizeInput(s))
}

// parseOptionalDate treats an empty value as "not given".
func parseOptionalDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}

// parseListOptions reads ?limit=, bounded by maxListLimit. Zero means all.
func parseListOptions(q url.Values) (store.ListOptions, error) {
	v := strings.TrimSpace(q.Get("limit"))
	if v == "" {
		return store.ListOptions{}, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > maxListLimit {
		return store.ListOptions{}, fmt.Errorf("%w: limit must be between 0 and %d", core.ErrValidation, maxListLimit)
	}
	return store.ListOptions{Limit: n}, nil
}

// parseBoolParam reads an optional boolean query parameter.
func parseBoolParam(q url.Values, key string) (bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", core.ErrValidation, key)
	}
	return b, nil
}

// upper normalises status values so clients may send them in any case.
func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func parseTxStatus(s string) (core.TxStatus, error) {
	if s = upper(s); s == "" {
		return "", nil
	}
	st := core.TxStatus(s)
	if !st.Valid() {
		return "", core.ErrInvalidStatus
	}
	return st, nil
}

func parseUserStatus(s string) (core.UserStatus, error) {
	if s = upper(s); s == "" {
		return "", nil
	}
	st := core.UserStatus(s)
	if !st.Valid() {
		return "", core.ErrInvalidStatus
	}
	return st, nil
}

func parseAssistanceStatus(s string) (core.AssistanceStatus, error) {
	if s = upper(s); s == "" {
		return "", nil
	}
	st := core.AssistanceStatus(s)
	if !st.Valid() {
		return "", core.ErrInvalidStatus
	}
	return st, nil
}
