// ABOUTME: Helpers for pulling typed values out of decoded JSON tool arguments.
// ABOUTME: JSON numbers arrive as float64; everything here tolerates that.

package library

func argString(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func argStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

func argIntSlice(args map[string]any, key string) []int {
	switch v := args[key].(type) {
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			if f, ok := item.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	case []int:
		return v
	default:
		return nil
	}
}

func argMap(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}
