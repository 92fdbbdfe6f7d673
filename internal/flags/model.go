// Package flags implements the feature-flag data model for failure
// injection: parsing and validating raw JSON into a FlagConfig, and
// resolving a FlagConfig into the ordered list of failures to apply to one
// invocation.
package flags

// CanonicalOrder lists the recognized failure modes in the fixed order they
// are always evaluated and applied.
var CanonicalOrder = []string{
	"latency",
	"timeout",
	"diskspace",
	"denylist",
	"statuscode",
	"exception",
	"corruption",
}

// MatchCondition targets a failure at invocations whose event matches a
// dotted JSON path under one of four operators.
type MatchCondition struct {
	Path     string
	Operator string // "eq" (default), "exists", "startsWith", "regex"
	Value    *string
}

// FlagValue holds one failure mode's configured parameters. Every field
// beyond Enabled is optional; a nil pointer means "not configured" and the
// caller falls back to the mode's documented default.
type FlagValue struct {
	Enabled bool

	Percentage *int // 0-100; missing resolves to 100 (see Resolve)

	MinLatency *float64
	MaxLatency *float64

	ExceptionMsg *string

	StatusCode *int

	DiskSpace *int // megabytes, 1-10240

	DenyList []string // regex patterns

	TimeoutBufferMs *float64

	Body *string // corruption replacement

	MatchConditions []MatchCondition
}

// FlagConfig maps a failure mode name to its configured value. Only
// canonical mode names ever appear as keys; every value has passed
// validation.
type FlagConfig map[string]FlagValue

// ResolvedFailure is one enabled failure, ready to be gated and applied.
type ResolvedFailure struct {
	Mode                string
	EffectivePercentage int // 0-100
	Flag                FlagValue
}

// Resolve derives the ordered list of enabled failures from a validated
// FlagConfig. The order is always CanonicalOrder, filtered to entries
// present and enabled.
func Resolve(config FlagConfig) []ResolvedFailure {
	resolved := make([]ResolvedFailure, 0, len(config))
	for _, mode := range CanonicalOrder {
		flag, ok := config[mode]
		if !ok || !flag.Enabled {
			continue
		}
		pct := 100
		if flag.Percentage != nil {
			pct = *flag.Percentage
			if pct > 100 {
				pct = 100
			}
			if pct < 0 {
				pct = 0
			}
		}
		resolved = append(resolved, ResolvedFailure{
			Mode:                mode,
			EffectivePercentage: pct,
			Flag:                flag,
		})
	}
	return resolved
}
