package catalog

// BBMRI ships the BBMRI-ERIC biobank directory project's catalog: the
// richest of the four, used by the worked CQL examples in spec.md §8.
func BBMRI() *Catalog {
	return &Catalog{
		Project: "bbmri",
		CQL: CQL{
			CodeSystems: map[string]string{
				"loinc":  "http://loinc.org",
				"snomed": "http://snomed.info/sct",
				"icd10":  "http://hl7.org/fhir/sid/icd-10",
				"ucum":   "http://unitsofmeasure.org",
			},
			ObservationLoincCodes: map[string]string{
				"hemoglobin_level": "718-7",
			},
			CriterionCodeLists: map[string][]string{
				"sample_kind": {"snomed"},
			},
			Snippets: map[SnippetKey]string{
				{"gender", RoleQuery}: "Patient.gender = '{{C}}'",

				{"sample_kind", RoleQuery}:  "exists ([Specimen] S where S.type.coding contains Code '{{C}}' from {{A1}})",
				{"sample_kind", RoleFilter}: "SpecimenType = '{{C}}'",

				{"diagnosis_age_donor", RoleQuery}: "AgeInYearsAt(FHIRHelpers.ToDateTime(C.onset)) between Ceiling({{D1}}) and Ceiling({{D2}})",

				{"date_of_diagnosis", RoleQuery}: "C.onset between {{D1}} and {{D2}}",

				{"hemoglobin_level", RoleQuery}: "exists ([Observation: Code '{{K}}' from loinc] O where O.value between {{D1}} and {{D2}})",
			},
			MandatoryCodeSystems: []string{"loinc", "snomed", "icd10"},
			SampleTypeWorkarounds: map[string][]string{
				"blood-plasma": {
					"plasma-edta", "plasma-citrat", "plasma-heparin",
					"plasma-cell-free", "plasma-other", "plasma",
				},
				"serum": {"serum-frozen"},
				"buffy-coat": {"buffy-coat-frozen"},
			},
			Template:     cqlTemplate,
			BodyTemplate: bodyTemplate,
		},
	}
}

// cqlTemplate is the outer CQL library document. {{lists}} receives one
// "codesystem" line per referenced code system; {{retrieval_criteria}} and
// {{filter_criteria}} receive the compiled define body.
const cqlTemplate = `library Retrieve version '1.0.0'
using FHIR version '4.0.1'
include FHIRHelpers version '4.0.1'

{{lists}}

context Patient

define InInitialPopulation:
  {{retrieval_criteria}}
{{filter_criteria}}
`

// bodyTemplate is the outer JSON measure envelope Focus posts to the FHIR
// measure evaluator. {{LIBRARY_UUID}} and {{MEASURE_UUID}} are freshly
// generated per call; {{LIBRARY_ENCODED}} is the base64 of the CQL above.
const bodyTemplate = `{
  "resourceType": "Bundle",
  "type": "transaction",
  "entry": [
    {
      "resource": {
        "resourceType": "Library",
        "id": "{{LIBRARY_UUID}}",
        "url": "urn:uuid:{{LIBRARY_UUID}}",
        "status": "active",
        "type": {"coding": [{"system": "http://terminology.hl7.org/CodeSystem/library-type", "code": "logic-library"}]},
        "content": [{"contentType": "text/cql", "data": "{{LIBRARY_ENCODED}}"}]
      },
      "request": {"method": "PUT", "url": "Library/{{LIBRARY_UUID}}"}
    },
    {
      "resource": {
        "resourceType": "Measure",
        "id": "{{MEASURE_UUID}}",
        "url": "urn:uuid:{{MEASURE_UUID}}",
        "status": "active",
        "library": ["urn:uuid:{{LIBRARY_UUID}}"],
        "scoring": {"coding": [{"code": "cohort"}]}
      },
      "request": {"method": "PUT", "url": "Measure/{{MEASURE_UUID}}"}
    }
  ]
}`
