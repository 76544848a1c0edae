package registry

import (
	"github.com/effective-security/x/values"
	"github.com/invopop/jsonschema"
)

// credentialsProperty is the conventional sub-schema providers use to group
// the secrets a tool needs.
const credentialsProperty = "credentials"

// DefaultCredentialParams are the well-known parameter names treated as
// credential requirements when found at the top level of a tool schema.
var DefaultCredentialParams = []string{
	"api_key",
	"apikey",
	"access_token",
	"token",
	"client_secret",
	"password",
	"secret",
}

// CredentialParser derives credential requirements from a tool input schema.
// It recognizes either a nested `credentials` object sub-schema, or a
// configurable table of well-known top-level parameter names.
type CredentialParser struct {
	wellKnown map[string]bool
	disabled  bool
}

// NewCredentialParser returns a parser using the given well-known parameter
// table, or DefaultCredentialParams when the table is empty. When disabled
// the parser always returns nil.
func NewCredentialParser(params []string, disabled bool) *CredentialParser {
	if len(params) == 0 {
		params = DefaultCredentialParams
	}
	wellKnown := make(map[string]bool, len(params))
	for _, p := range params {
		wellKnown[p] = true
	}
	return &CredentialParser{
		wellKnown: wellKnown,
		disabled:  disabled,
	}
}

// Parse returns the credential requirements declared by the schema.
func (p *CredentialParser) Parse(sch *jsonschema.Schema) []CredentialRequirement {
	if p.disabled || sch == nil || sch.Properties == nil {
		return nil
	}

	var reqs []CredentialRequirement
	for pair := sch.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, sub := pair.Key, pair.Value
		if sub == nil {
			continue
		}

		if name == credentialsProperty && sub.Properties != nil {
			for cp := sub.Properties.Oldest(); cp != nil; cp = cp.Next() {
				reqs = append(reqs, requirementFromSchema(cp.Key, cp.Value))
			}
			continue
		}

		if p.wellKnown[name] {
			reqs = append(reqs, requirementFromSchema(name, sub))
		}
	}
	return reqs
}

func requirementFromSchema(name string, sub *jsonschema.Schema) CredentialRequirement {
	req := CredentialRequirement{
		ID:          name,
		DisplayName: name,
	}
	if sub == nil {
		return req
	}
	req.DisplayName = values.StringsCoalesce(sub.Title, name)
	req.Description = sub.Description
	if hint, ok := sub.Extras["acquisitionHint"].(string); ok {
		req.AcquisitionHint = hint
	}
	return req
}
