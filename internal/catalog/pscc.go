package catalog

// PSCC ships the pediatric solid-cancer cohort project's catalog: CQL
// criteria over a smaller, pediatrics-specific set of keys.
func PSCC() *Catalog {
	return &Catalog{
		Project: "pscc",
		CQL: CQL{
			CodeSystems: map[string]string{
				"icd10":  "http://hl7.org/fhir/sid/icd-10",
				"snomed": "http://snomed.info/sct",
			},
			ObservationLoincCodes: map[string]string{
				"tumor_stage": "21908-9",
			},
			CriterionCodeLists: map[string][]string{
				"diagnosis": {"icd10"},
			},
			Snippets: map[SnippetKey]string{
				{"diagnosis", RoleQuery}: "exists ([Condition: Code '{{C}}' from {{A1}}])",

				{"tumor_stage", RoleQuery}:  "exists ([Observation: Code '{{K}}' from snomed] O where O.value = '{{C}}')",
				{"tumor_stage", RoleFilter}: "TumorStage = '{{C}}'",

				{"age_at_diagnosis", RoleQuery}: "AgeInYearsAt(FHIRHelpers.ToDateTime(C.onset)) between Ceiling({{D1}}) and Ceiling({{D2}})",
			},
			MandatoryCodeSystems: []string{"icd10", "snomed"},
			SampleTypeWorkarounds: map[string][]string{},
			Template:              cqlTemplate,
			BodyTemplate:          bodyTemplate,
		},
	}
}
