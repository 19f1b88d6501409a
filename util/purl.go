// Package util provides identity, version and package URL helpers for the patch graph.
//
//revive:disable-next-line:var-naming
package util

import (
	"strings"

	"github.com/package-url/packageurl-go"
)

var ecosystemPurlTypes = map[string]string{
	"npm":       "npm",
	"pypi":      "pypi",
	"maven":     "maven",
	"go":        "golang",
	"golang":    "golang",
	"nuget":     "nuget",
	"rubygems":  "gem",
	"gem":       "gem",
	"crates.io": "cargo",
	"cargo":     "cargo",
	"packagist": "composer",
	"composer":  "composer",
	"pub":       "pub",
	"cocoapods": "cocoapods",
	"hex":       "hex",
	"alpine":    "apk",
	"wolfi":     "apk",
	"debian":    "deb",
	"ubuntu":    "deb",
}

// EcosystemToPurlType converts a vendor/ecosystem name to a PURL type.
// Unknown ecosystems map to "generic".
func EcosystemToPurlType(ecosystem string) string {
	if purlType, ok := ecosystemPurlTypes[strings.ToLower(strings.TrimSpace(ecosystem))]; ok {
		return purlType
	}
	return packageurl.TypeGeneric
}

// BuildPURL derives a package URL for a patch from its vendor, product and
// fixed version. An unknown version is left out. Returns "" when no sensible
// name can be derived.
// Example: ("maven", "org.apache:commons-lang3", "3.12.0") -> "pkg:maven/org.apache/commons-lang3@3.12.0"
func BuildPURL(vendor, product, version string) string {
	product = strings.TrimSpace(product)
	if product == "" {
		return ""
	}

	purlType := EcosystemToPurlType(vendor)
	namespace, name := splitProduct(purlType, product)
	if purlType == packageurl.TypeGeneric {
		namespace = strings.ToLower(strings.TrimSpace(vendor))
	}
	if name == "" {
		return ""
	}

	version = strings.TrimSpace(version)
	if strings.EqualFold(version, "unknown") {
		version = ""
	}

	purl := packageurl.NewPackageURL(purlType, namespace, name, version, nil, "")
	return strings.ToLower(purl.ToString())
}

// splitProduct separates an ecosystem-specific product name into namespace and name.
func splitProduct(purlType, product string) (string, string) {
	switch purlType {
	case "maven":
		if group, artifact, ok := strings.Cut(product, ":"); ok {
			return group, artifact
		}
	case "npm", "golang", "composer":
		if i := strings.LastIndex(product, "/"); i > 0 {
			return product[:i], product[i+1:]
		}
	}
	return "", product
}
