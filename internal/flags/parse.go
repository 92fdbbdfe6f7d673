package flags

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
)

var canonicalSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(CanonicalOrder))
	for _, m := range CanonicalOrder {
		s[m] = struct{}{}
	}
	return s
}()

var validOperators = map[string]struct{}{
	"eq":         {},
	"exists":     {},
	"startsWith": {},
	"regex":      {},
}

// Parse decodes raw JSON into a FlagConfig. It never fails: malformed input
// at any level degrades to dropping the offending piece (a whole mode, or the
// whole document) with a warning logged through logger, per spec §4.A. A mode
// with any invalid field is dropped entirely; single fields are never dropped
// on their own.
func Parse(logger *slog.Logger, raw []byte) FlagConfig {
	config := make(FlagConfig)

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		logger.Warn("config is not valid JSON", "error", err)
		return config
	}

	obj, ok := generic.(map[string]interface{})
	if !ok {
		logger.Warn("config is not a JSON object")
		return config
	}

	if _, legacy := obj["isEnabled"]; legacy {
		logger.Warn("detected 0.x configuration format — this version requires the v1.0 feature-flag format")
	} else if _, legacy := obj["failureMode"]; legacy {
		logger.Warn("detected 0.x configuration format — this version requires the v1.0 feature-flag format")
	}

	for key, value := range obj {
		if _, known := canonicalSet[key]; !known {
			continue
		}

		flagObj, ok := value.(map[string]interface{})
		if !ok {
			logger.Warn("flag value must be an object, skipping", "mode", key)
			continue
		}

		flag, errs := validateFlagValue(key, flagObj)
		if len(errs) > 0 {
			for _, e := range errs {
				logger.Warn("invalid flag field", "field", e.field, "message", e.message)
			}
			logger.Warn("skipping flag due to validation errors", "mode", key)
			continue
		}
		config[key] = flag
	}

	return config
}

type fieldError struct {
	field   string
	message string
}

func validateFlagValue(mode string, raw map[string]interface{}) (FlagValue, []fieldError) {
	var errs []fieldError
	var flag FlagValue

	enabledRaw, hasEnabled := raw["enabled"]
	enabledBool, isBool := enabledRaw.(bool)
	if !hasEnabled || !isBool {
		errs = append(errs, fieldError{fmt.Sprintf("%s.enabled", mode), "must be a boolean"})
	}
	flag.Enabled = enabledBool

	if v, present := raw["percentage"]; present {
		n, ok := asInt(v)
		if !ok || n < 0 || n > 100 {
			errs = append(errs, fieldError{fmt.Sprintf("%s.percentage", mode), "must be an integer between 0 and 100"})
		} else {
			flag.Percentage = &n
		}
	}

	switch mode {
	case "latency":
		validateLatency(raw, &flag, mode, &errs)
	case "timeout":
		if v, present := raw["timeout_buffer_ms"]; present {
			f, ok := asFloat(v)
			if !ok || f < 0 {
				errs = append(errs, fieldError{fmt.Sprintf("%s.timeout_buffer_ms", mode), "must be a non-negative number"})
			} else {
				flag.TimeoutBufferMs = &f
			}
		}
	case "diskspace":
		if v, present := raw["disk_space"]; present {
			n, ok := asInt(v)
			if !ok || n < 1 || n > 10240 {
				errs = append(errs, fieldError{fmt.Sprintf("%s.disk_space", mode), "must be between 1 and 10240 (MB)"})
			} else {
				flag.DiskSpace = &n
			}
		}
	case "denylist":
		if v, present := raw["deny_list"]; present {
			list, ok := asStringSlice(v)
			if !ok {
				errs = append(errs, fieldError{fmt.Sprintf("%s.deny_list", mode), "must be an array of strings"})
			} else {
				for i, pattern := range list {
					if _, err := regexp.Compile(pattern); err != nil {
						errs = append(errs, fieldError{fmt.Sprintf("%s.deny_list[%d]", mode, i), "invalid regular expression"})
					}
				}
				flag.DenyList = list
			}
		}
	case "statuscode":
		if v, present := raw["status_code"]; present {
			n, ok := asInt(v)
			if !ok || n < 100 || n > 599 {
				errs = append(errs, fieldError{fmt.Sprintf("%s.status_code", mode), "must be an HTTP status code (100-599)"})
			} else {
				flag.StatusCode = &n
			}
		}
	case "exception":
		if v, present := raw["exception_msg"]; present {
			s, ok := asStringOrNull(v)
			if !ok {
				errs = append(errs, fieldError{fmt.Sprintf("%s.exception_msg", mode), "must be a string"})
			} else {
				flag.ExceptionMsg = s
			}
		}
	case "corruption":
		if v, present := raw["body"]; present {
			s, ok := asStringOrNull(v)
			if !ok {
				errs = append(errs, fieldError{fmt.Sprintf("%s.body", mode), "must be a string"})
			} else {
				flag.Body = s
			}
		}
	}

	if v, present := raw["match"]; present {
		conditions, condErrs := validateMatchConditions(mode, v)
		errs = append(errs, condErrs...)
		flag.MatchConditions = conditions
	}

	return flag, errs
}

func validateLatency(raw map[string]interface{}, flag *FlagValue, mode string, errs *[]fieldError) {
	var min, max *float64

	if v, present := raw["min_latency"]; present {
		f, ok := asFloat(v)
		if !ok || f < 0 {
			*errs = append(*errs, fieldError{fmt.Sprintf("%s.min_latency", mode), "must be a non-negative number"})
		} else {
			min = &f
		}
	}
	if v, present := raw["max_latency"]; present {
		f, ok := asFloat(v)
		if !ok || f < 0 {
			*errs = append(*errs, fieldError{fmt.Sprintf("%s.max_latency", mode), "must be a non-negative number"})
		} else {
			max = &f
		}
	}
	if min != nil && max != nil && *min > *max {
		*errs = append(*errs, fieldError{fmt.Sprintf("%s.max_latency", mode), "max_latency must be >= min_latency"})
	} else {
		flag.MinLatency, flag.MaxLatency = min, max
	}
}

func validateMatchConditions(mode string, raw interface{}) ([]MatchCondition, []fieldError) {
	var errs []fieldError
	list, ok := raw.([]interface{})
	if !ok {
		return nil, []fieldError{{fmt.Sprintf("%s.match", mode), "must be an array"}}
	}

	conditions := make([]MatchCondition, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d]", mode, i), "must be an object"})
			continue
		}

		cond := MatchCondition{Operator: "eq"}

		path, _ := m["path"].(string)
		cond.Path = path
		if path == "" {
			errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d].path", mode, i), "must be a non-empty string"})
		}

		if op, present := m["operator"]; present {
			opStr, ok := op.(string)
			if !ok {
				opStr = ""
			}
			if _, valid := validOperators[opStr]; !valid {
				errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d].operator", mode, i), "must be one of: eq, exists, startsWith, regex"})
			} else {
				cond.Operator = opStr
			}
		}

		if v, present := m["value"]; present {
			s, ok := v.(string)
			if !ok {
				errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d].value", mode, i), "must be a string"})
			} else {
				cond.Value = &s
			}
		} else if cond.Operator != "exists" {
			errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d].value", mode, i), "must be a string (required for all operators except 'exists')"})
		}

		if cond.Operator == "regex" && cond.Value != nil {
			if _, err := regexp.Compile(*cond.Value); err != nil {
				errs = append(errs, fieldError{fmt.Sprintf("%s.match[%d].value", mode, i), "invalid regular expression"})
			}
		}

		conditions = append(conditions, cond)
	}
	return conditions, errs
}

func asFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.Trunc(f) != f {
		return 0, false
	}
	return int(f), true
}

func asStringOrNull(v interface{}) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

func asStringSlice(v interface{}) ([]string, bool) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
