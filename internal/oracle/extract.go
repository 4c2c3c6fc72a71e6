package oracle

import (
	"strconv"
	"strings"
)

// extractCount evaluates the configured JSONPath against a decoded job
// payload and coerces the result to an int. A missing path or a value that
// is not a number yields ok=false rather than an error.
func (c *Client) extractCount(payload interface{}) (int, bool) {
	value, err := c.countPath.Lookup(payload)
	if err != nil {
		return 0, false
	}
	return coerceToInt(value)
}

// coerceToInt converts JSON-decoded values to an int. encoding/json decodes
// numbers as float64, but some server versions serialize counts as strings.
func coerceToInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		num, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return num, true
	default:
		return 0, false
	}
}
