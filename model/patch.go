// Package model defines the documents stored in the patch knowledge graph and the
// records exchanged with the ingestion collaborators.
package model

import (
	"strings"
	"time"
)

// CrashLikelihood is the enrichment estimate of how likely a patch is to destabilize a host.
type CrashLikelihood string

// Crash likelihood values
const (
	CrashLikelihoodLow    CrashLikelihood = "Low"
	CrashLikelihoodMedium CrashLikelihood = "Medium"
	CrashLikelihoodHigh   CrashLikelihood = "High"
)

// Valid reports whether c is empty or one of the known values.
func (c CrashLikelihood) Valid() bool {
	switch c {
	case "", CrashLikelihoodLow, CrashLikelihoodMedium, CrashLikelihoodHigh:
		return true
	}
	return false
}

// Relation is the type of a graph edge.
type Relation string

// Edge relations
const (
	RelationBelongsTo Relation = "belongs_to"
	RelationFixes     Relation = "fixes"
)

// EnrichedRecord is one observed fix/version event after enrichment.
// Vendor and Product are required; everything else is optional.
type EnrichedRecord struct {
	Vendor               string          `json:"vendor" yaml:"vendor"`
	Product              string          `json:"product" yaml:"product"`
	FixedVersion         string          `json:"fixed_version,omitempty" yaml:"fixed_version,omitempty"`
	ReferenceKB          string          `json:"reference_kb,omitempty" yaml:"reference_kb,omitempty"`
	VulnerabilitiesFixed []string        `json:"vulnerabilities_fixed" yaml:"vulnerabilities_fixed"`
	NvdCPE               *string         `json:"nvd_cpe" yaml:"nvd_cpe"`
	PerformanceIssues    string          `json:"performance_issues,omitempty" yaml:"performance_issues,omitempty"`
	CrashLikelihood      CrashLikelihood `json:"crash_likelihood,omitempty" yaml:"crash_likelihood,omitempty"`
	RebootRequired       bool            `json:"reboot_required" yaml:"reboot_required"`
	EOLInfo              string          `json:"eol_info,omitempty" yaml:"eol_info,omitempty"`
	Mitigations          []string        `json:"mitigations" yaml:"mitigations"`
	Caveats              []string        `json:"caveats" yaml:"caveats"`

	// IdempotencyKey, when set, becomes the Patch document key so a retried
	// record converges instead of appending a second Patch.
	IdempotencyKey string `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
}

// HasIdentity reports whether the record carries a non-blank vendor and product.
func (r EnrichedRecord) HasIdentity() bool {
	return strings.TrimSpace(r.Vendor) != "" && strings.TrimSpace(r.Product) != ""
}

// PatchDocument is the stored form of a Patch node.
type PatchDocument struct {
	Key                  string          `json:"_key,omitempty"`
	ObjType              string          `json:"objtype"`
	Vendor               string          `json:"vendor"`
	Product              string          `json:"product"`
	FixedVersion         string          `json:"fixed_version"`
	ReferenceKB          string          `json:"reference_kb"`
	VulnerabilitiesFixed []string        `json:"vulnerabilities_fixed"`
	NvdCPE               *string         `json:"nvd_cpe"`
	PerformanceIssues    string          `json:"performance_issues"`
	CrashLikelihood      CrashLikelihood `json:"crash_likelihood"`
	RebootRequired       bool            `json:"reboot_required"`
	EOLInfo              string          `json:"eol_info"`
	Mitigations          []string        `json:"mitigations"`
	Caveats              []string        `json:"caveats"`

	// Derived at ingestion
	Purl                   string    `json:"purl,omitempty"`
	FixedVersionMajor      *int      `json:"fixed_version_major,omitempty"`
	FixedVersionMinor      *int      `json:"fixed_version_minor,omitempty"`
	FixedVersionPatch      *int      `json:"fixed_version_patch,omitempty"`
	FixedVersionPrerelease string    `json:"fixed_version_prerelease,omitempty"`
	FixedVersionValid      bool      `json:"fixed_version_valid"`
	IngestedAt             time.Time `json:"ingested_at"`
}

// NewPatchDocument copies the record's patch attributes into a new document.
// Nil lists are stored as empty lists.
func NewPatchDocument(r EnrichedRecord) *PatchDocument {
	return &PatchDocument{
		ObjType:              "Patch",
		Vendor:               r.Vendor,
		Product:              r.Product,
		FixedVersion:         r.FixedVersion,
		ReferenceKB:          r.ReferenceKB,
		VulnerabilitiesFixed: nonNil(r.VulnerabilitiesFixed),
		NvdCPE:               r.NvdCPE,
		PerformanceIssues:    r.PerformanceIssues,
		CrashLikelihood:      r.CrashLikelihood,
		RebootRequired:       r.RebootRequired,
		EOLInfo:              r.EOLInfo,
		Mitigations:          nonNil(r.Mitigations),
		Caveats:              nonNil(r.Caveats),
	}
}

// ProductDocument is the stored form of a Product node.
type ProductDocument struct {
	Key      string         `json:"_key"`
	ObjType  string         `json:"objtype"`
	Vendor   string         `json:"vendor"`
	Product  string         `json:"product"`
	Metadata map[string]any `json:"metadata"`
}

// NewProductDocument returns a product with empty metadata.
func NewProductDocument(key, vendor, product string) *ProductDocument {
	return &ProductDocument{
		Key:      key,
		ObjType:  "Product",
		Vendor:   vendor,
		Product:  product,
		Metadata: map[string]any{},
	}
}

// VulnerabilityDocument is the stored form of a Vulnerability node.
type VulnerabilityDocument struct {
	Key           string         `json:"_key"`
	ObjType       string         `json:"objtype"`
	Vulnerability string         `json:"vulnerability"`
	Details       map[string]any `json:"details"`
}

// NewVulnerabilityDocument returns a vulnerability with empty details.
func NewVulnerabilityDocument(key, identifier string) *VulnerabilityDocument {
	return &VulnerabilityDocument{
		Key:           key,
		ObjType:       "Vulnerability",
		Vulnerability: identifier,
		Details:       map[string]any{},
	}
}

// EdgeDocument is a directed, typed relationship between two nodes.
// From and To are collection-qualified ("products/npm_express").
type EdgeDocument struct {
	Key      string   `json:"_key,omitempty"`
	From     string   `json:"_from"`
	To       string   `json:"_to"`
	Relation Relation `json:"relation"`
}

// LinkedNode identifies a Product or Vulnerability node touched by an insert.
type LinkedNode struct {
	Key        string `json:"key"`
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	Created    bool   `json:"created"`
}

// EdgeRef confirms one edge written during an insert.
type EdgeRef struct {
	Key      string   `json:"key"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// PatchInsertResult is returned for every successfully ingested record.
type PatchInsertResult struct {
	PatchKey        string       `json:"patch_key"`
	PatchID         string       `json:"patch_id"`
	PatchReused     bool         `json:"patch_reused,omitempty"`
	Product         LinkedNode   `json:"product"`
	Vulnerabilities []LinkedNode `json:"vulnerabilities"`
	Edges           []EdgeRef    `json:"edges"`
}

// CountRelation returns the number of edges in the result with the given relation.
func (r *PatchInsertResult) CountRelation(rel Relation) int {
	n := 0
	for _, e := range r.Edges {
		if e.Relation == rel {
			n++
		}
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
