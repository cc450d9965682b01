package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// TransformKind identifies one transform variant.
type TransformKind string

const (
	TransformUppercase      TransformKind = "uppercase"
	TransformLowercase      TransformKind = "lowercase"
	TransformTrim           TransformKind = "trim"
	TransformMap            TransformKind = "map"
	TransformNumberScale    TransformKind = "numberScale"
	TransformSanitizeNull   TransformKind = "sanitizeNull"
	TransformDateFormat     TransformKind = "dateFormat"
	TransformPhoneNormalize TransformKind = "phoneNormalize"
	TransformStatic         TransformKind = "static"
)

// DateFormat source formats with dedicated parsing.
const (
	DateSourceUnix   = "unix"
	DateSourceUnixMS = "unix_ms"
)

// Transform is a tagged union describing one value transform.
// Only the payload fields for the given Kind are meaningful.
type Transform struct {
	Kind         TransformKind     `json:"type"`
	Values       map[string]string `json:"values,omitempty"`       // map
	Multiplier   float64           `json:"multiplier,omitempty"`   // numberScale
	SourceFormat string            `json:"sourceFormat,omitempty"` // dateFormat
	Value        any               `json:"value,omitempty"`        // static
}

// Validate rejects malformed transforms at pipeline-save time so bad
// configuration fails early instead of at execution.
func (t *Transform) Validate() error {
	switch t.Kind {
	case TransformUppercase, TransformLowercase, TransformTrim,
		TransformSanitizeNull, TransformPhoneNormalize, TransformStatic:
		return nil
	case TransformMap:
		if len(t.Values) == 0 {
			return fmt.Errorf("map transform requires a values table")
		}
		return nil
	case TransformNumberScale:
		if t.Multiplier == 0 {
			return fmt.Errorf("numberScale transform requires a non-zero multiplier")
		}
		return nil
	case TransformDateFormat:
		if t.SourceFormat == "" {
			return fmt.Errorf("dateFormat transform requires a sourceFormat")
		}
		return nil
	default:
		return fmt.Errorf("unknown transform kind %q", t.Kind)
	}
}

// ApplyTransform applies a transform to a raw value from the source data.
// Returns the transformed value, or the original if no transform applies.
// Unknown kinds pass the value through unchanged: configs written against
// a newer engine must not break older ones.
func ApplyTransform(value any, transform *Transform) any {
	if transform == nil {
		return value
	}

	switch transform.Kind {
	case TransformPhoneNormalize:
		return normalizePhone(value)
	case TransformMap:
		return applyMap(value, transform.Values)
	case TransformUppercase:
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
		return value
	case TransformLowercase:
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
		return value
	case TransformTrim:
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
		return value
	case TransformDateFormat:
		return parseDateValue(value, transform.SourceFormat)
	case TransformNumberScale:
		return applyNumberScale(value, transform.Multiplier)
	case TransformSanitizeNull:
		return sanitizeNull(value)
	case TransformStatic:
		return transform.Value
	default:
		return value
	}
}

func normalizePhone(value any) any {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return value
	}

	phone, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return value
	}

	return phonenumbers.Format(phone, phonenumbers.E164)
}

func applyMap(value any, values map[string]string) any {
	if mapped, ok := values[stringify(value)]; ok {
		return mapped
	}
	return value
}

// isoMillis matches JavaScript's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

func parseDateValue(value any, sourceFormat string) any {
	switch sourceFormat {
	case DateSourceUnix:
		if ts, ok := asInt64(value); ok {
			return time.Unix(ts, 0).UTC().Format(isoMillis)
		}
		return value
	case DateSourceUnixMS:
		if ts, ok := asInt64(value); ok {
			return time.UnixMilli(ts).UTC().Format(isoMillis)
		}
		return value
	}

	s, ok := value.(string)
	if !ok {
		return value
	}

	// Common source-API date shapes, most specific first
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC().Format(isoMillis)
		}
	}

	return value
}

func applyNumberScale(value any, multiplier float64) any {
	num, ok := asFloat64(value)
	if !ok {
		return value
	}

	return math.Round(num * multiplier)
}

func sanitizeNull(value any) any {
	if value == nil {
		return nil
	}

	switch value {
	case "", "null", "NULL", "None", "none", "undefined":
		return nil
	}

	return value
}

func asFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// stringify mirrors loose string coercion of source payload values so map
// transform tables can key on numbers and booleans as written in JSON.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
