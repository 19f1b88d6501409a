// Package util provides identity, version and package URL helpers for the patch graph.
//
//revive:disable-next-line:var-naming
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ortelius/patchgraph/database"
)

// maxKeyLength is the ArangoDB limit on _key length in bytes.
const maxKeyLength = 254

// ArangoDB document keys: letters, digits and a fixed set of punctuation.
var validKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.@()+,=;$!*'%]+$`)

// cvePrefixes are the accepted spellings of the CVE prefix after lower-casing.
var cvePrefixes = []string{"cve-", "cve_", "cve:", "cve "}

// ValidateKey checks that key is a legal document key. Nothing is stripped:
// an illegal key is reported as ErrMalformedIdentity.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return database.WrapError(database.ErrCodeMalformedIdentity, "malformed identity key", fmt.Errorf("key is empty"))
	case len(key) > maxKeyLength:
		return database.WrapError(database.ErrCodeMalformedIdentity, "malformed identity key",
			fmt.Errorf("key %q exceeds %d bytes", key, maxKeyLength))
	case !validKeyPattern.MatchString(key):
		return database.WrapError(database.ErrCodeMalformedIdentity, "malformed identity key",
			fmt.Errorf("key %q contains characters not allowed in a document key", key))
	}
	return nil
}

// ProductKey derives the Product identity: lower(vendor) + "_" + lower(product).
// Example: ("npm", "Express") -> "npm_express"
func ProductKey(vendor, product string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(vendor)) + "_" + strings.ToLower(strings.TrimSpace(product))
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// VulnerabilityKey derives the Vulnerability identity from an identifier.
// The identifier is lower-cased and any spelling of the CVE prefix collapses to "cve_".
// Example: "CVE-2023-1001" -> "cve_2023-1001"
func VulnerabilityKey(identifier string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	for _, prefix := range cvePrefixes {
		if strings.HasPrefix(key, prefix) {
			key = "cve_" + strings.TrimPrefix(key, prefix)
			break
		}
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// EdgeKey derives a deterministic edge key from its parts.
func EdgeKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "e" + hex.EncodeToString(sum[:16])
}
