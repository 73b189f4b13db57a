package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ExactNames(t *testing.T) {
	cases := map[string]Category{
		"RECEIVE":   CategoryReceive,
		"Received":  CategoryReceive,
		"erect":     CategoryErect,
		"Connected": CategoryConnect,
		"SUPPORT":   CategorySupport,
		"Punch":     CategoryPunch,
		"TEST":      CategoryTest,
		"Restored":  CategoryRestore,
		"Fit Up":    CategoryFit,
		"FIT-UP":    CategoryFit,
		"Weld":      CategoryWeld,
		"Weld Out":  CategoryWeld,
		"VT":        CategoryVT,
		"RT":        CategoryRT,
		"UT":        CategoryUT,
	}
	for name, want := range cases {
		assert.Equal(t, want, Classify(name), "name %q", name)
	}
}

func TestClassify_LongestKeywordWins(t *testing.T) {
	// "Fit Up Complete" contains both FIT and FIT UP; the longer
	// keyword decides.
	assert.Equal(t, CategoryFit, Classify("Fit Up Complete"))

	// "Hydro Test" contains both HYDRO and TEST; HYDRO is longer and
	// keeps hydrotesting out of the generic TEST bucket only when it
	// would change the category. Both map to TEST here.
	assert.Equal(t, CategoryTest, Classify("Hydro Test Complete"))

	// "Fitup and Weld" has WELD (4) beating FIT (3).
	assert.Equal(t, CategoryWeld, Classify("Fitted and Welded"))
}

func TestClassify_ShortKeywordsMatchTokensOnly(t *testing.T) {
	// "OUT" inside "WELD OUT" must never match UT.
	assert.Equal(t, CategoryWeld, Classify("Weld Out Complete"))

	// Bare tokens still classify.
	assert.Equal(t, CategoryVT, Classify("VT Inspection"))
	assert.Equal(t, CategoryRT, Classify("RT Film Review"))

	// "Support" contains neither a VT nor UT token.
	assert.Equal(t, CategorySupport, Classify("Pipe Supports Installed"))
}

func TestClassify_Unrecognized(t *testing.T) {
	assert.Equal(t, CategoryNone, Classify("Insulation"))
	assert.Equal(t, CategoryNone, Classify(""))
	assert.Equal(t, CategoryNone, Classify("   "))
}

func TestClassify_NormalizesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, CategoryFit, Classify("  fit   up  "))
	assert.Equal(t, CategoryReceive, Classify("receive"))
}
