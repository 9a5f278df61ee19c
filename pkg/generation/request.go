package generation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultModel is the remote model used when a request names none.
	DefaultModel = "gpt-4o-mini"
	// DefaultMaxTokens is the token budget used when a request gives none.
	DefaultMaxTokens = 400
	// DefaultTemperature is the temperature used when a request gives none.
	DefaultTemperature = 0.7
)

// RawRequest holds the decoded fields of an inbound request body, as produced
// by json.Unmarshal into a map. Numbers may be float64 or json.Number.
type RawRequest map[string]any

// Request is a validated generation request. ID is assigned by the transport
// for correlation and is not read from the raw fields.
type Request struct {
	ID          string       `json:"id,omitempty"`
	Prompt      string       `json:"prompt"`
	Provider    ProviderKind `json:"provider"`
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
}

// RequestDefaults holds the values substituted for absent or falsy fields.
// MaxTokensLimit, when positive, caps the budget a client may ask for.
type RequestDefaults struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	MaxTokensLimit int
}

// BuiltinDefaults returns the defaults used by NormalizeRequest.
func BuiltinDefaults() RequestDefaults {
	return RequestDefaults{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// NormalizeRequest validates raw with the built-in defaults.
func NormalizeRequest(raw RawRequest) (Request, error) {
	return BuiltinDefaults().Normalize(raw)
}

// Normalize validates raw and fills in defaults. Absent fields and falsy
// values (null, false, 0, "") take the default, so a temperature of 0 means
// the default temperature. Numeric fields accept JSON numbers, numeric strings
// and booleans. Any failure is a *ValidationError.
func (d RequestDefaults) Normalize(raw RawRequest) (Request, error) {
	d = d.withFallbacks()
	var req Request

	prompt, err := stringField(raw, "prompt")
	if err != nil {
		return Request{}, err
	}
	req.Prompt = strings.TrimSpace(prompt)
	if req.Prompt == "" {
		return Request{}, &ValidationError{Field: "prompt", Message: "Prompt is required"}
	}

	provider, err := stringField(raw, "provider")
	if err != nil {
		return Request{}, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		req.Provider = ProviderAuto
	} else if kind, ok := providerAliases[provider]; ok {
		req.Provider = kind
	} else {
		return Request{}, &ValidationError{Field: "provider", Message: fmt.Sprintf("Unknown provider %q", provider)}
	}

	if req.Model, err = stringField(raw, "model"); err != nil {
		return Request{}, err
	}
	if req.Model == "" {
		req.Model = d.Model
	}

	maxField, maxValue := firstTruthy(raw, "maxTokens", "max_tokens")
	if maxValue == nil {
		req.MaxTokens = d.MaxTokens
	} else if req.MaxTokens, err = coerceInt(maxField, maxValue); err != nil {
		return Request{}, err
	}
	if req.MaxTokens <= 0 {
		return Request{}, &ValidationError{Field: maxField, Message: "Max tokens must be positive"}
	}
	if d.MaxTokensLimit > 0 && req.MaxTokens > d.MaxTokensLimit {
		req.MaxTokens = d.MaxTokensLimit
	}

	if value := raw["temperature"]; !truthy(value) {
		req.Temperature = d.Temperature
	} else if req.Temperature, err = coerceFloat("temperature", value); err != nil {
		return Request{}, err
	}
	if math.IsNaN(req.Temperature) || math.IsInf(req.Temperature, 0) || req.Temperature < 0 {
		return Request{}, &ValidationError{Field: "temperature", Message: "Temperature must be a finite, non-negative number"}
	}

	return req, nil
}

func (d RequestDefaults) withFallbacks() RequestDefaults {
	builtin := BuiltinDefaults()
	if d.Model == "" {
		d.Model = builtin.Model
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = builtin.MaxTokens
	}
	if d.Temperature <= 0 {
		d.Temperature = builtin.Temperature
	}
	return d
}

// stringField returns raw[name] as a string. Falsy values yield "".
func stringField(raw RawRequest, name string) (string, error) {
	value := raw[name]
	if !truthy(value) {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", &ValidationError{Field: name, Message: fmt.Sprintf("Field %q must be a string", name)}
	}
	return s, nil
}

// firstTruthy returns the first of names whose value is truthy.
func firstTruthy(raw RawRequest, names ...string) (string, any) {
	for _, name := range names {
		if value := raw[name]; truthy(value) {
			return name, value
		}
	}
	return names[0], nil
}

// truthy reports whether value counts as set: non-nil, non-zero, non-empty.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func coerceInt(field string, value any) (int, error) {
	invalid := &ValidationError{Field: field, Message: fmt.Sprintf("Field %q must be an integer", field)}
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
			return 0, invalid
		}
		return int(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			if n > math.MaxInt32 || n < math.MinInt32 {
				return 0, invalid
			}
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, invalid
		}
		return coerceInt(field, f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid
		}
		return n, nil
	default:
		return 0, invalid
	}
}

func coerceFloat(field string, value any) (float64, error) {
	invalid := &ValidationError{Field: field, Message: fmt.Sprintf("Field %q must be a number", field)}
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalid
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalid
		}
		return f, nil
	default:
		return 0, invalid
	}
}
