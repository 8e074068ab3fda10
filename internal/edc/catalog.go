package edc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Prefixes the connector uses in compacted JSON-LD. Catalogs may arrive
// compacted, expanded, or with bare property names; lookups accept all three.
var namespaces = map[string]string{
	"edc":       "https://w3id.org/edc/v0.0.1/ns/",
	"odrl":      "http://www.w3.org/ns/odrl/2/",
	"dct":       "https://purl.org/dc/terms/",
	"dcat":      "https://www.w3.org/ns/dcat/",
	"cx-taxo":   "https://w3id.org/catenax/taxonomy#",
	"cx-common": "https://w3id.org/catenax/ontology/common#",
	"cx-policy": "https://w3id.org/catenax/policy/",
}

func expandIRI(s string) string {
	prefix, local, ok := strings.Cut(s, ":")
	if !ok {
		return s
	}
	if ns, known := namespaces[prefix]; known {
		return ns + local
	}
	return s
}

func compactIRI(s string) string {
	for prefix, ns := range namespaces {
		if strings.HasPrefix(s, ns) {
			return prefix + ":" + strings.TrimPrefix(s, ns)
		}
	}
	return s
}

func localName(s string) string {
	if i := strings.LastIndexAny(s, "#/:"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// sameTerm compares a received term with a configured one. A configured bare
// name matches any namespace; a prefixed or absolute one must match exactly.
func sameTerm(got, want string) bool {
	if strings.ContainsAny(want, ":/#") {
		return expandIRI(got) == expandIRI(want)
	}
	return localName(got) == want
}

func field(m map[string]any, prefix, local string) (any, bool) {
	for _, k := range []string{prefix + ":" + local, namespaces[prefix] + local, local} {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{v}
	}
}

func asObjects(v any) []map[string]any {
	var out []map[string]any
	for _, item := range asList(v) {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// scalar reads a plain value out of its JSON-LD wrapping: "x", {"@id": "x"},
// {"@value": "x"} or a one-element list of any of those.
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if id, ok := t["@id"]; ok {
			return scalar(id)
		}
		if val, ok := t["@value"]; ok {
			return scalar(val)
		}
	case []any:
		if len(t) == 1 {
			return scalar(t[0])
		}
	}
	return ""
}

// CatalogEntry is one dataset from a partner catalog.
type CatalogEntry struct {
	AssetID string
	Raw     map[string]any
}

func (e CatalogEntry) prop(prefix, local string) string {
	v, _ := field(e.Raw, prefix, local)
	return scalar(v)
}

// Matches reports whether the entry advertises exactly api.
func (e CatalogEntry) Matches(api LogicalAPI) bool {
	return expandIRI(e.prop("dct", "type")) == expandIRI(api.Type) &&
		e.prop("cx-common", "apiPurpose") == api.Purpose &&
		e.prop("cx-common", "version") == api.Version
}

func (e CatalogEntry) policies() []map[string]any {
	v, _ := field(e.Raw, "odrl", "hasPolicy")
	return asObjects(v)
}

// parseCatalog pulls the datasets out of a catalog response. A catalog with a
// single dataset carries an object instead of an array.
func parseCatalog(body []byte) ([]CatalogEntry, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	datasets, _ := field(doc, "dcat", "dataset")
	raw := asObjects(datasets)
	entries := make([]CatalogEntry, 0, len(raw))
	for _, ds := range raw {
		id := scalar(ds["@id"])
		if id == "" {
			v, _ := field(ds, "edc", "id")
			id = scalar(v)
		}
		entries = append(entries, CatalogEntry{AssetID: id, Raw: ds})
	}
	return entries, nil
}

// FrameworkActive is the right operand a conforming framework constraint must carry.
const FrameworkActive = "active"

// CheckFrameworkPolicy accepts an entry only if it has exactly one policy with
// exactly one permission holding exactly one constraint
// agreement eq "active", and no obligations or prohibitions.
func CheckFrameworkPolicy(e CatalogEntry, agreement string) error {
	policies := e.policies()
	if len(policies) != 1 {
		return fmt.Errorf("expected exactly one policy, found %d", len(policies))
	}
	policy := policies[0]
	for _, rule := range []string{"obligation", "prohibition"} {
		if v, ok := field(policy, "odrl", rule); ok && len(asList(v)) > 0 {
			return fmt.Errorf("unexpected %s in policy", rule)
		}
	}
	pv, _ := field(policy, "odrl", "permission")
	permissions := asObjects(pv)
	if len(permissions) != 1 {
		return fmt.Errorf("expected exactly one permission, found %d", len(permissions))
	}
	constraints, err := flattenConstraints(permissions[0])
	if err != nil {
		return err
	}
	if len(constraints) != 1 {
		return fmt.Errorf("expected exactly one constraint, found %d", len(constraints))
	}
	c := constraints[0]
	lv, _ := field(c, "odrl", "leftOperand")
	ov, _ := field(c, "odrl", "operator")
	rv, _ := field(c, "odrl", "rightOperand")
	left, op, right := scalar(lv), localName(scalar(ov)), scalar(rv)
	if !sameTerm(left, agreement) {
		return fmt.Errorf("constraint left operand %q is not %q", left, agreement)
	}
	if op != "eq" {
		return fmt.Errorf("constraint operator %q is not eq", op)
	}
	if right != FrameworkActive {
		return fmt.Errorf("constraint right operand %q is not %q", right, FrameworkActive)
	}
	return nil
}

// flattenConstraints unwraps a single level of odrl:and. Any other logical
// operator is refused.
func flattenConstraints(permission map[string]any) ([]map[string]any, error) {
	cv, _ := field(permission, "odrl", "constraint")
	var out []map[string]any
	for _, c := range asObjects(cv) {
		if and, ok := field(c, "odrl", "and"); ok {
			out = append(out, asObjects(and)...)
			continue
		}
		for _, op := range []string{"or", "xone", "andSequence"} {
			if _, ok := field(c, "odrl", op); ok {
				return nil, fmt.Errorf("unsupported logical constraint %s", op)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// selectOffer picks the first entry matching api. With requireAgreement set,
// any matching entry whose policy does not conform aborts the selection.
// It also returns how many entries qualified.
func selectOffer(entries []CatalogEntry, api LogicalAPI, agreement string, requireAgreement bool) (Offer, int, error) {
	var chosen *CatalogEntry
	qualified := 0
	for i := range entries {
		e := entries[i]
		if !e.Matches(api) {
			continue
		}
		if requireAgreement {
			if err := CheckFrameworkPolicy(e, agreement); err != nil {
				return Offer{}, qualified, fmt.Errorf("%w: asset %s: %w", ErrPolicyMismatch, e.AssetID, err)
			}
		}
		qualified++
		if chosen == nil {
			chosen = &entries[i]
		}
	}
	if chosen == nil {
		return Offer{}, 0, ErrAssetNotFound
	}
	offer := Offer{AssetID: chosen.AssetID}
	if policies := chosen.policies(); len(policies) > 0 {
		offer.Policy = policies[0]
		offer.OfferID = scalar(policies[0]["@id"])
	}
	return offer, qualified, nil
}
