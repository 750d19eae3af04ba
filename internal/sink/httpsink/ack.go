package httpsink

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// AckError reports a 2xx response whose body did not acknowledge the payload.
type AckError struct {
	Path  string
	Value string
}

func (e *AckError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("response missing acknowledgement at %s", e.Path)
	}
	return fmt.Sprintf("response not acknowledged: %s = %s", e.Path, e.Value)
}

// normalizePath accepts both "$.field" and "field" forms. A bare "$" selects
// the whole document.
func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// checkAck requires the value at path to exist and be truthy: true, a
// non-zero number, or a non-empty string other than "false" and "0".
func checkAck(body []byte, path string) error {
	result := gjson.GetBytes(body, normalizePath(path))
	if !result.Exists() {
		return &AckError{Path: path}
	}
	switch result.Type {
	case gjson.True:
		return nil
	case gjson.Number:
		if result.Float() != 0 {
			return nil
		}
	case gjson.String:
		if s := result.String(); s != "" && s != "false" && s != "0" {
			return nil
		}
	case gjson.JSON:
		return nil
	}
	return &AckError{Path: path, Value: result.Raw}
}
