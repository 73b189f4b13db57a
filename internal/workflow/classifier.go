package workflow

import "strings"

// Category is the canonical label a milestone name is mapped to.
// Categories drive dependency gating; names that map to CategoryNone
// fall back to strict positional sequencing.
type Category int

const (
	CategoryNone Category = iota
	CategoryReceive
	CategoryErect
	CategoryConnect
	CategorySupport
	CategoryPunch
	CategoryTest
	CategoryRestore
	CategoryFit
	CategoryWeld
	CategoryVT
	CategoryRT
	CategoryUT
)

func (c Category) String() string {
	switch c {
	case CategoryReceive:
		return "RECEIVE"
	case CategoryErect:
		return "ERECT"
	case CategoryConnect:
		return "CONNECT"
	case CategorySupport:
		return "SUPPORT"
	case CategoryPunch:
		return "PUNCH"
	case CategoryTest:
		return "TEST"
	case CategoryRestore:
		return "RESTORE"
	case CategoryFit:
		return "FIT"
	case CategoryWeld:
		return "WELD"
	case CategoryVT:
		return "VT"
	case CategoryRT:
		return "RT"
	case CategoryUT:
		return "UT"
	default:
		return "NONE"
	}
}

type keywordRule struct {
	keyword  string
	category Category
}

// exactNames covers the milestone names used verbatim on ROC templates.
var exactNames = map[string]Category{
	"RECEIVE":        CategoryReceive,
	"RECEIVED":       CategoryReceive,
	"ERECT":          CategoryErect,
	"ERECTED":        CategoryErect,
	"CONNECT":        CategoryConnect,
	"CONNECTED":      CategoryConnect,
	"SUPPORT":        CategorySupport,
	"SUPPORTED":      CategorySupport,
	"PUNCH":          CategoryPunch,
	"TEST":           CategoryTest,
	"TESTED":         CategoryTest,
	"RESTORE":        CategoryRestore,
	"RESTORED":       CategoryRestore,
	"FIT UP":         CategoryFit,
	"FIT-UP":         CategoryFit,
	"FITUP":          CategoryFit,
	"WELD":           CategoryWeld,
	"WELDED":         CategoryWeld,
	"WELD OUT":       CategoryWeld,
	"VT":             CategoryVT,
	"VISUAL TEST":    CategoryVT,
	"RT":             CategoryRT,
	"RADIOGRAPHY":    CategoryRT,
	"UT":             CategoryUT,
	"ULTRASONIC":     CategoryUT,
	"HYDRO TEST":     CategoryTest,
	"PUNCH COMPLETE": CategoryPunch,
}

// substringRules are tried after exact lookup fails. The longest
// matching keyword wins; on equal length the earlier rule wins. Short
// NDT abbreviations are matched as whole tokens only, so "WELD OUT"
// never hits "UT".
var substringRules = []keywordRule{
	{"FIT UP", CategoryFit},
	{"FIT-UP", CategoryFit},
	{"RECEIVE", CategoryReceive},
	{"RESTORE", CategoryRestore},
	{"SUPPORT", CategorySupport},
	{"CONNECT", CategoryConnect},
	{"RADIOGRAPH", CategoryRT},
	{"ULTRASONIC", CategoryUT},
	{"VISUAL", CategoryVT},
	{"ERECT", CategoryErect},
	{"PUNCH", CategoryPunch},
	{"HYDRO", CategoryTest},
	{"WELD", CategoryWeld},
	{"TEST", CategoryTest},
	{"FIT", CategoryFit},
	{"VT", CategoryVT},
	{"RT", CategoryRT},
	{"UT", CategoryUT},
}

// tokenOnlyLen marks keywords short enough that a bare substring match
// would misfire inside unrelated words.
const tokenOnlyLen = 3

// Classify maps a free-text milestone name to its canonical category.
// Precedence: exact match first, then longest keyword substring match.
// The function is total; unrecognized names classify to CategoryNone.
func Classify(name string) Category {
	n := normalize(name)
	if n == "" {
		return CategoryNone
	}

	if cat, ok := exactNames[n]; ok {
		return cat
	}

	tokens := strings.Fields(n)
	best := CategoryNone
	bestLen := 0
	for _, rule := range substringRules {
		if len(rule.keyword) <= bestLen {
			continue
		}
		if len(rule.keyword) < tokenOnlyLen {
			if containsToken(tokens, rule.keyword) {
				best = rule.category
				bestLen = len(rule.keyword)
			}
			continue
		}
		if strings.Contains(n, rule.keyword) {
			best = rule.category
			bestLen = len(rule.keyword)
		}
	}
	return best
}

func normalize(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	return strings.Join(strings.Fields(n), " ")
}

func containsToken(tokens []string, keyword string) bool {
	for _, t := range tokens {
		if t == keyword {
			return true
		}
	}
	return false
}
