package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const maxResponseLength = 1000

// HashPII normalizes a user identifier (trim, lower-case) and returns its SHA-256 hex digest
func HashPII(value string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:])
}

// firstPresent returns the value of the first key present in m
func firstPresent(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		return t.String() != "0"
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Errorf("could not convert string to float: '%s'", t)
		}
		return f, nil
	default:
		return 0, errors.Errorf("could not convert %T to float", v)
	}
}

// floatString renders a float the way the platforms expect string amounts ("80.0", "80.79")
func floatString(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func userData(payload map[string]interface{}) map[string]interface{} {
	if ud, ok := payload["user_data"].(map[string]interface{}); ok {
		return ud
	}
	return map[string]interface{}{}
}

func items(payload map[string]interface{}) ([]map[string]interface{}, bool) {
	raw, ok := payload["items"]
	if !ok {
		return nil, false
	}
	list, _ := raw.([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func quantity(item map[string]interface{}) interface{} {
	if q, ok := item["quantity"]; ok {
		return q
	}
	return 1
}

func itemID(item map[string]interface{}) interface{} {
	v, _ := firstPresent(item, "item_id", "id")
	return v
}

func itemName(item map[string]interface{}) interface{} {
	v, _ := firstPresent(item, "item_name", "name")
	return v
}

func totalQuantity(list []map[string]interface{}) (float64, error) {
	var total float64
	for _, item := range list {
		q, err := toFloat(quantity(item))
		if err != nil {
			return 0, err
		}
		total += q
	}
	return total, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func credString(creds map[string]interface{}, key string) string {
	if v, ok := creds[key]; ok && truthy(v) {
		return stringify(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
