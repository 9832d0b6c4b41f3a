package session

import (
	"fmt"
	"regexp"
	"strings"
)

// contentHashPattern validates that a hash field contains only lowercase
// hex digits before it is embedded in a pipe-delimited signable payload
// (spec.md §4.6 "contentHash must match ^[0-9a-f]+$").
var contentHashPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// ErrInvalidSignableField is returned when a field destined for a
// signable payload would corrupt the pipe-delimited format (contains a
// literal "|") or, for contentHash, isn't lowercase hex.
type ErrInvalidSignableField struct {
	Field string
	Value string
}

func (e *ErrInvalidSignableField) Error() string {
	return fmt.Sprintf("session: invalid signable field %s: %q", e.Field, e.Value)
}

// SignablePayloadV1 builds the v1 signable string
// "contentHash|createdAt|signerDid" (spec.md §4.6).
func SignablePayloadV1(contentHash, createdAt, signerDid string) (string, error) {
	if err := validateHash(contentHash); err != nil {
		return "", err
	}
	if err := validateNoPipe("createdAt", createdAt); err != nil {
		return "", err
	}
	if err := validateNoPipe("signerDid", signerDid); err != nil {
		return "", err
	}
	return strings.Join([]string{contentHash, createdAt, signerDid}, "|"), nil
}

// SignablePayloadV2 builds the v2 signable string
// "v2|memoryId|contentHash|createdAt|signerDid" (spec.md §4.6).
func SignablePayloadV2(memoryID, contentHash, createdAt, signerDid string) (string, error) {
	if err := validateNoPipe("memoryId", memoryID); err != nil {
		return "", err
	}
	if err := validateHash(contentHash); err != nil {
		return "", err
	}
	if err := validateNoPipe("createdAt", createdAt); err != nil {
		return "", err
	}
	if err := validateNoPipe("signerDid", signerDid); err != nil {
		return "", err
	}
	return strings.Join([]string{"v2", memoryID, contentHash, createdAt, signerDid}, "|"), nil
}

func validateHash(hash string) error {
	if !contentHashPattern.MatchString(hash) {
		return &ErrInvalidSignableField{Field: "contentHash", Value: hash}
	}
	return nil
}

func validateNoPipe(field, value string) error {
	if strings.Contains(value, "|") {
		return &ErrInvalidSignableField{Field: field, Value: value}
	}
	return nil
}
