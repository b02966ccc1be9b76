package conflict

import (
	"reflect"
	"sort"
	"strings"
)

// ignoredFields are payload keys excluded from conflict detection: they
// change on every version bump without representing a clinical edit.
var ignoredFields = map[string]bool{
	"id":   true,
	"meta": true,
}

// ChangedFields returns the sorted top-level payload fields whose values
// differ between the two versions. A field present in only one version
// counts as changed. Ignored bookkeeping fields never count, so a pure
// version bump with identical content yields no changed fields.
func ChangedFields(stored, incoming map[string]any) []string {
	changed := make(map[string]bool)
	for k, sv := range stored {
		if ignoredFields[k] {
			continue
		}
		iv, ok := incoming[k]
		if !ok || !reflect.DeepEqual(sv, iv) {
			changed[k] = true
		}
	}
	for k := range incoming {
		if ignoredFields[k] {
			continue
		}
		if _, ok := stored[k]; !ok {
			changed[k] = true
		}
	}

	out := make([]string, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Field groups for FIELD_MERGE. The source material leaves the grouping
// unspecified; this grouping is our documented choice (see DESIGN.md):
// demographics covers patient-facing identity fields, vitals covers
// measured values, clinical covers coded clinical content, and metadata is
// the catch-all for everything else.
const (
	GroupDemographics = "demographics"
	GroupVitals       = "vitals"
	GroupClinical     = "clinical"
	GroupMetadata     = "metadata"
)

var fieldGroups = map[string]string{
	"name":          GroupDemographics,
	"address":       GroupDemographics,
	"telecom":       GroupDemographics,
	"contact":       GroupDemographics,
	"birthDate":     GroupDemographics,
	"gender":        GroupDemographics,
	"maritalStatus": GroupDemographics,

	"value":          GroupVitals,
	"valueQuantity":  GroupVitals,
	"valueString":    GroupVitals,
	"component":      GroupVitals,
	"interpretation": GroupVitals,
	"referenceRange": GroupVitals,
	"unit":           GroupVitals,

	"code":               GroupClinical,
	"category":           GroupClinical,
	"status":             GroupClinical,
	"severity":           GroupClinical,
	"clinicalStatus":     GroupClinical,
	"verificationStatus": GroupClinical,
	"note":               GroupClinical,
}

// GroupForField maps a payload field to its merge group. Fields with an
// effective/onset prefix are clinical; anything unknown is metadata.
func GroupForField(field string) string {
	if g, ok := fieldGroups[field]; ok {
		return g
	}
	if strings.HasPrefix(field, "effective") || strings.HasPrefix(field, "onset") {
		return GroupClinical
	}
	return GroupMetadata
}

// GroupFields partitions changed fields by merge group.
func GroupFields(fields []string) map[string][]string {
	groups := make(map[string][]string)
	for _, f := range fields {
		g := GroupForField(f)
		groups[g] = append(groups[g], f)
	}
	return groups
}
