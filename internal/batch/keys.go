// Package batch runs extraction through an offline batch-prediction
// service: build keyed requests, submit, poll to a terminal state and
// reassemble the results in page order.
package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/disclosureflow/internal/common"
)

// keyDelimiter separates the group from the ordinal. The group is opaque
// and may itself contain ':'.
const keyDelimiter = ":batch-"

// FormatKey returns the request key "<group>:batch-<ordinal>". Ordinals are
// 0-based chunk indexes within the group.
func FormatKey(group string, ordinal int) string {
	return group + keyDelimiter + strconv.Itoa(ordinal)
}

// ParseKey splits a request key back into group and ordinal.
func ParseKey(key string) (group string, ordinal int, err error) {
	if n := strings.Count(key, keyDelimiter); n != 1 {
		return "", 0, fmt.Errorf("%w: %q has %d delimiters", common.ErrInvalidKeyFormat, key, n)
	}
	group, digits, _ := strings.Cut(key, keyDelimiter)
	if group == "" {
		return "", 0, fmt.Errorf("%w: %q has an empty group", common.ErrInvalidKeyFormat, key)
	}
	ordinal, err = strconv.Atoi(digits)
	if err != nil || ordinal < 0 || strings.HasPrefix(digits, "+") {
		return "", 0, fmt.Errorf("%w: %q has a bad ordinal", common.ErrInvalidKeyFormat, key)
	}
	return group, ordinal, nil
}
