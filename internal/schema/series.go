// ABOUTME: Series field normalization with bracket index notation.
// ABOUTME: Parses "Name [3]" into a series name and floating-point index.

package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var seriesBracketRe = regexp.MustCompile(`^(.*?)\s*\[([^\]]+)\]$`)

// normalizeSeries splits a series value into its name and optional index.
// The bracket notation "My Series [2]" carries the index; exactly one bracket
// pair is allowed and it must close the string.
func normalizeSeries(input string) (string, *float64, error) {
	input = strings.TrimSpace(input)

	if !strings.ContainsAny(input, "[]") {
		return input, nil, nil
	}

	if strings.Count(input, "[") != 1 || strings.Count(input, "]") != 1 {
		return "", nil, fmt.Errorf("invalid series format: multiple bracket pairs found in %q", input)
	}

	if strings.LastIndex(input, "]") != len(input)-1 {
		return "", nil, fmt.Errorf("invalid series format: content found after closing bracket in %q", input)
	}

	m := seriesBracketRe.FindStringSubmatch(input)
	if m == nil {
		return "", nil, fmt.Errorf("invalid series format: brackets must be at the end in %q", input)
	}

	name := strings.TrimRight(m[1], " ")
	idx, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid series index: %q is not a valid number in %q", m[2], input)
	}

	return name, &idx, nil
}
