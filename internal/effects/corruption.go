package effects

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"unicode/utf8"
)

// mangleFracMin and mangleFracMax bound the random fraction of the
// body field's length kept by a mangle corruption, per spec.
const (
	mangleFracMin = 0.3
	mangleFracMax = 0.8
)

// CorruptResponse transforms a response body string per the configured
// corruption flag. replacement is flag.body; a nil replacement means
// "mangle", a non-nil one means "replace".
func CorruptResponse(logger *slog.Logger, replacement *string, body string) string {
	if replacement != nil {
		return corruptReplace(logger, *replacement, body)
	}
	return corruptMangle(body)
}

func corruptReplace(logger *slog.Logger, replacement, body string) string {
	var generic interface{}
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return replacement
	}

	obj, ok := generic.(map[string]interface{})
	if !ok {
		logger.Warn("corruption: response JSON is not an object, wrapping replacement")
		obj = map[string]interface{}{}
	} else if _, hasBody := obj["body"]; !hasBody {
		logger.Warn("corruption: response JSON has no body field, wrapping replacement")
	}
	obj["body"] = replacement

	encoded, err := json.Marshal(obj)
	if err != nil {
		return replacement
	}
	return string(encoded)
}

func corruptMangle(body string) string {
	var generic interface{}
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return body
	}

	obj, ok := generic.(map[string]interface{})
	if !ok {
		return body
	}

	field, ok := obj["body"].(string)
	if !ok {
		return body
	}

	obj["body"] = truncateAtCharBoundary(field, mangleFracMin+rand.Float64()*(mangleFracMax-mangleFracMin)) + "���"

	encoded, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return string(encoded)
}

// truncateAtCharBoundary keeps the first frac fraction of s's length,
// snapping down to the nearest UTF-8 rune boundary.
func truncateAtCharBoundary(s string, frac float64) string {
	target := int(float64(len(s)) * frac)
	if target >= len(s) {
		return s
	}
	if target <= 0 {
		return ""
	}
	for target > 0 && !utf8.RuneStart(s[target]) {
		target--
	}
	return strings.Clone(s[:target])
}
