package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Callback payloads are "unique[:visit[:value]]" and must fit Telegram's 64-byte limit.
const (
	sep             = ":"
	MaxCallbackData = 64
)

var (
	ErrEmptyCallback   = errors.New("callback data is empty")
	ErrCallbackTooLong = errors.New("callback data too long")
	ErrInvalidUnique   = errors.New("invalid callback unique")
)

// EncodeCallback joins unique and data into a callback payload.
func EncodeCallback(unique, data string) (string, error) {
	if unique == "" || strings.Contains(unique, sep) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnique, unique)
	}

	payload := unique
	if data != "" {
		payload += sep + data
	}
	if n := len(payload); n > MaxCallbackData {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrCallbackTooLong, n, MaxCallbackData)
	}
	return payload, nil
}

// DecodeCallback splits a payload at its first separator.
func DecodeCallback(payload string) (unique, data string, err error) {
	if payload == "" {
		return "", "", ErrEmptyCallback
	}
	unique, data, _ = strings.Cut(payload, sep)
	return unique, data, nil
}

// VisitData prefixes value with the stage visit the button was rendered for.
func VisitData(visit uint64, value string) string {
	v := strconv.FormatUint(visit, 10)
	if value == "" {
		return v
	}
	return v + sep + value
}

// DecodeVisit splits data produced by VisitData.
func DecodeVisit(data string) (visit uint64, value string, err error) {
	raw, value, _ := strings.Cut(data, sep)
	if visit, err = strconv.ParseUint(raw, 10, 64); err != nil {
		return 0, "", fmt.Errorf("invalid visit %q: %w", raw, err)
	}
	return visit, value, nil
}
