package cachecore

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest accepted identifier or store name, in
// bytes; anything of 10,000 bytes or more is rejected.
const MaxIdentifierLength = 9999

// MaxValueBytes bounds the encoded size of a Value before it reaches the
// codec; tests use a 10 MiB threshold.
const MaxValueBytes = 10 * 1024 * 1024

var traversalPattern = regexp.MustCompile(`\.\./`)

var reservedTokens = []string{"__proto__", "*"}
var sqlPunctuation = []string{"'", ";", "--"}

// ValidateIdentifier enforces the identifier/store-name rules shared by both
// the identifier and store-name positions: non-empty, bounded length, no
// traversal patterns, no SQL-like punctuation, no reserved tokens.
func ValidateIdentifier(field, s string) error {
	if s == "" {
		return &ValidationError{Kind: identifierErr(field), Field: field, Got: s}
	}
	if len(s) > MaxIdentifierLength {
		return &ValidationError{Kind: identifierErr(field), Field: field, Got: fmt.Sprintf("<%d bytes>", len(s))}
	}
	if traversalPattern.MatchString(s) {
		return &ValidationError{Kind: identifierErr(field), Field: field, Got: s}
	}
	for _, tok := range sqlPunctuation {
		if strings.Contains(s, tok) {
			return &ValidationError{Kind: identifierErr(field), Field: field, Got: s}
		}
	}
	for _, tok := range reservedTokens {
		if s == tok || strings.Contains(s, tok) {
			return &ValidationError{Kind: identifierErr(field), Field: field, Got: s}
		}
	}
	return nil
}

func identifierErr(field string) error {
	if field == "store" {
		return ErrInvalidStoreName
	}
	return ErrInvalidIdentifier
}
