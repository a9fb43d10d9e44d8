package standardize

// DefaultCountries maps lower-cased aliases to canonical country names.
var DefaultCountries = map[string]string{
	"usa":                      "United States",
	"us":                       "United States",
	"u.s.":                     "United States",
	"u.s.a.":                   "United States",
	"united states":            "United States",
	"united states of america": "United States",
	"america":                  "United States",
	"uk":                       "United Kingdom",
	"u.k.":                     "United Kingdom",
	"gb":                       "United Kingdom",
	"great britain":            "United Kingdom",
	"england":                  "United Kingdom",
	"united kingdom":           "United Kingdom",
	"de":                       "Germany",
	"deutschland":              "Germany",
	"germany":                  "Germany",
	"fr":                       "France",
	"france":                   "France",
	"eu":                       "European Union",
	"european union":           "European Union",
	"ca":                       "Canada",
	"canada":                   "Canada",
	"jp":                       "Japan",
	"japan":                    "Japan",
	"cn":                       "China",
	"prc":                      "China",
	"china":                    "China",
	"ch":                       "Switzerland",
	"schweiz":                  "Switzerland",
	"suisse":                   "Switzerland",
	"switzerland":              "Switzerland",
	"au":                       "Australia",
	"australia":                "Australia",
	"in":                       "India",
	"india":                    "India",
	"br":                       "Brazil",
	"brasil":                   "Brazil",
	"brazil":                   "Brazil",
	"mx":                       "Mexico",
	"mexico":                   "Mexico",
	"ie":                       "Ireland",
	"ireland":                  "Ireland",
	"nl":                       "Netherlands",
	"holland":                  "Netherlands",
	"netherlands":              "Netherlands",
	"cote d'ivoire":            "Côte d'Ivoire",
	"ivory coast":              "Côte d'Ivoire",
}

// DefaultCategories maps lower-cased aliases to canonical category labels.
var DefaultCategories = map[string]string{
	"recall":               "Recall",
	"recalls":              "Recall",
	"product recall":       "Recall",
	"safety alert":         "Safety Alert",
	"safety communication": "Safety Alert",
	"alert":                "Safety Alert",
	"warning letter":       "Enforcement",
	"enforcement":          "Enforcement",
	"enforcement action":   "Enforcement",
	"approval":             "Approval",
	"approvals":            "Approval",
	"clearance":            "Approval",
	"510k":                 "Approval",
	"510(k)":               "Approval",
	"guidance":             "Guidance",
	"guidance document":    "Guidance",
	"guideline":            "Guidance",
	"legal":                "Legal",
	"case law":             "Legal",
	"court decision":       "Legal",
	"judgment":             "Legal",
	"article":              "Knowledge",
	"knowledge":            "Knowledge",
	"knowledge article":    "Knowledge",
}

// DefaultDateFields lists the field names treated as dates.
var DefaultDateFields = []string{
	"date",
	"publication_date",
	"published_at",
	"publishedDate",
	"decision_date",
}
