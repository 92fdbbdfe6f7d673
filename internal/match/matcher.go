// Package match evaluates event-targeting conditions against a JSON event,
// deciding which invocations a configured failure applies to.
package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
)

const regexCacheSize = 1000

// regexCache is a process-wide bounded cache of compiled patterns, replacing
// the per-thread unbounded cache of the original implementation: config-
// supplied pattern counts are small, so a single shared LRU never thrashes.
var regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheSize)

// Matches reports whether event satisfies every condition (logical AND). An
// empty condition list always matches.
func Matches(event interface{}, conditions []flags.MatchCondition) bool {
	for _, cond := range conditions {
		if !matchOne(event, cond) {
			return false
		}
	}
	return true
}

func matchOne(event interface{}, cond flags.MatchCondition) bool {
	value, found := resolvePath(event, cond.Path)

	operator := cond.Operator
	if operator == "" {
		operator = "eq"
	}

	if operator == "exists" {
		return found && value != nil
	}

	if !found || value == nil {
		return false
	}

	actual := stringify(value)

	switch operator {
	case "eq":
		return cond.Value != nil && actual == *cond.Value
	case "startsWith":
		return cond.Value != nil && strings.HasPrefix(actual, *cond.Value)
	case "regex":
		if cond.Value == nil {
			return false
		}
		re, ok := compileCached(*cond.Value)
		if !ok {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// resolvePath walks a dotted path ("a.b.c") through nested JSON objects.
// Missing keys at any step resolve to (nil, false).
func resolvePath(event interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	current := event
	for _, seg := range segments {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, present := obj[seg]
		if !present {
			return nil, false
		}
		current = value
	}
	return current, true
}

// stringify renders a resolved JSON value the way the match engine compares
// it: strings verbatim, numbers/booleans in natural textual form, composites
// via their JSON encoding.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func compileCached(pattern string) (*regexp.Regexp, bool) {
	if re, ok := regexCache.Get(pattern); ok {
		return re, true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	regexCache.Add(pattern, re)
	return re, true
}
