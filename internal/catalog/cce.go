package catalog

// CCE ships the cross-collection imaging-exchange project's catalog: the
// SQL-imaging and URL-param dialects (spec.md §4.3) both draw on the same
// Category/ParamName/Criterion tables, mirroring the shared criteria.rs
// tables behind eucaim_sql.rs and eucaim_api.rs in the original source.
func CCE() *Catalog {
	return &Catalog{
		Project: "cce",
		Imaging: Imaging{
			Category: map[string]int{
				"gender":       0, // patient-level
				"diagnosis":    0, // patient-level
				"modality":     1, // image-level
				"bodypart":     1, // image-level
				"manufacturer": 1, // image-level
			},
			ParamName: map[string]string{
				"gender":       "gender",
				"diagnosis":    "diagnosis",
				"modality":     "modality",
				"bodypart":     "bodyPart",
				"manufacturer": "manufacturer",
			},
			Criterion: map[string]string{
				"male":             "male",
				"female":           "female",
				"breast-cancer":    "SNOMEDCT399068003",
				"lung-cancer":      "SNOMEDCT254637007",
				"mr":               "MR",
				"ct":               "CT",
				"breast":           "breast",
				"lung":             "lung",
				"philips":          "Philips",
				"siemens":          "Siemens",
				"ge-healthcare":    "GE",
			},
		},
	}
}
