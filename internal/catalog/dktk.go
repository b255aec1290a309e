package catalog

// DKTK ships the German Cancer Consortium oncology project's catalog. It is
// deliberately smaller than BBMRI's: it covers primary diagnosis,
// morphology and gender criteria only.
func DKTK() *Catalog {
	return &Catalog{
		Project: "dktk",
		CQL: CQL{
			CodeSystems: map[string]string{
				"icd10": "http://hl7.org/fhir/sid/icd-10",
				"icdo3": "urn:oid:2.16.840.1.113883.6.43.1",
			},
			ObservationLoincCodes: map[string]string{},
			CriterionCodeLists: map[string][]string{
				"primary_diagnosis": {"icd10"},
				"morphology":        {"icdo3"},
			},
			Snippets: map[SnippetKey]string{
				{"primary_diagnosis", RoleQuery}: "exists ([Condition: Code '{{C}}' from {{A1}}])",

				{"morphology", RoleQuery}:  "exists ([Observation: Code '{{C}}' from {{A1}}])",
				{"morphology", RoleFilter}: "Morphology = '{{C}}'",

				{"gender", RoleQuery}: "Patient.gender = '{{C}}'",
			},
			MandatoryCodeSystems: []string{"icd10"},
			SampleTypeWorkarounds: map[string][]string{},
			Template:              cqlTemplate,
			BodyTemplate:          bodyTemplate,
		},
	}
}
