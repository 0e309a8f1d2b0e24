package content

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "content: read %s", path)
	}
	return string(data), nil
}

// extractJSON flattens a JSON document into "path: value" lines so the
// pattern extractor can see exported inventories (CMDB dumps, license
// exports) as plain text.
func extractJSON(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "content: read %s", path)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", eris.Wrapf(err, "content: parse json %s", path)
	}

	var b strings.Builder
	flattenJSON(&b, "", v)
	return b.String(), nil
}

func flattenJSON(b *strings.Builder, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(b, joinPath(prefix, k), t[k])
		}
	case []any:
		for i, item := range t {
			flattenJSON(b, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	case nil:
		fmt.Fprintf(b, "%s: null\n", prefix)
	default:
		fmt.Fprintf(b, "%s: %v\n", prefix, t)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
