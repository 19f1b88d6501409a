// Package nodes defines the GraphQL types for the patch graph nodes.
package nodes

import (
	"encoding/json"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/patchgraph/model"
)

// ProductType represents a Product node.
var ProductType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Product",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if prod, ok := p.Source.(*model.ProductDocument); ok {
					return prod.Key, nil
				}
				return nil, nil
			},
		},
		"objtype": &graphql.Field{Type: graphql.String},
		"vendor":  &graphql.Field{Type: graphql.String},
		"product": &graphql.Field{Type: graphql.String},
		"metadata": &graphql.Field{
			Type:        graphql.String,
			Description: "Product metadata as a JSON object",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if prod, ok := p.Source.(*model.ProductDocument); ok {
					return jsonObject(prod.Metadata)
				}
				return nil, nil
			},
		},
	},
})

// VulnerabilityType represents a Vulnerability node.
var VulnerabilityType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Vulnerability",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if vuln, ok := p.Source.(*model.VulnerabilityDocument); ok {
					return vuln.Key, nil
				}
				return nil, nil
			},
		},
		"objtype":       &graphql.Field{Type: graphql.String},
		"vulnerability": &graphql.Field{Type: graphql.String},
		"details": &graphql.Field{
			Type:        graphql.String,
			Description: "Vulnerability details as a JSON object",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if vuln, ok := p.Source.(*model.VulnerabilityDocument); ok {
					return jsonObject(vuln.Details)
				}
				return nil, nil
			},
		},
	},
})

// PatchType represents a Patch node.
var PatchType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Patch",
	Fields: graphql.Fields{
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if patch, ok := p.Source.(*model.PatchDocument); ok {
					return patch.Key, nil
				}
				return nil, nil
			},
		},
		"objtype":               &graphql.Field{Type: graphql.String},
		"vendor":                &graphql.Field{Type: graphql.String},
		"product":               &graphql.Field{Type: graphql.String},
		"fixed_version":         &graphql.Field{Type: graphql.String},
		"reference_kb":          &graphql.Field{Type: graphql.String},
		"vulnerabilities_fixed": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"nvd_cpe":               &graphql.Field{Type: graphql.String},
		"performance_issues":    &graphql.Field{Type: graphql.String},
		"crash_likelihood": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if patch, ok := p.Source.(*model.PatchDocument); ok {
					return string(patch.CrashLikelihood), nil
				}
				return nil, nil
			},
		},
		"reboot_required":     &graphql.Field{Type: graphql.Boolean},
		"eol_info":            &graphql.Field{Type: graphql.String},
		"mitigations":         &graphql.Field{Type: graphql.NewList(graphql.String)},
		"caveats":             &graphql.Field{Type: graphql.NewList(graphql.String)},
		"purl":                &graphql.Field{Type: graphql.String},
		"fixed_version_major": &graphql.Field{Type: graphql.Int},
		"fixed_version_minor": &graphql.Field{Type: graphql.Int},
		"fixed_version_patch": &graphql.Field{Type: graphql.Int},
		"fixed_version_valid": &graphql.Field{Type: graphql.Boolean},
		"ingested_at": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if patch, ok := p.Source.(*model.PatchDocument); ok {
					return patch.IngestedAt.Format("2006-01-02T15:04:05Z07:00"), nil
				}
				return nil, nil
			},
		},
	},
})

// jsonObject encodes a free-form map; nil encodes as an empty object.
func jsonObject(m map[string]any) (interface{}, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
