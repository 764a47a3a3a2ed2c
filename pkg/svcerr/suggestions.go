package svcerr

import (
	"fmt"
	"strings"
)

var suggestionMap = map[string][]string{
	CodePrediction: {
		"Check if all required input data is provided",
		"Verify that marks are within valid ranges",
		"Try again with different input values",
		"Contact support if predictions consistently fail",
	},
	CodeModel: {
		"The prediction model may be temporarily unavailable",
		"Try again in a few minutes",
		"Use manual calculation as a temporary alternative",
		"Contact the system administrator",
	},
	CodeData: {
		"Check that all required fields are filled",
		"Verify that numeric values are within expected ranges",
		"Ensure data format matches requirements",
		"Remove any special characters from input",
	},
	CodeDatabase: {
		"Check your internet connection",
		"Try the operation again",
		"Verify that referenced records exist",
		"Contact support if database issues persist",
	},
	CodeExternalService: {
		"The external service may be temporarily unavailable",
		"Check your network connection",
		"Try again in a few minutes",
		"Use alternative methods if available",
	},
}

var defaultSuggestions = []string{
	"Try the operation again",
	"Check your input data",
	"Contact support if the issue persists",
}

// Suggestions returns recovery hints for an error code, prepending more
// specific hints when the details point at a known condition.
func Suggestions(code string, details map[string]interface{}) []string {
	base, ok := suggestionMap[code]
	if !ok {
		base = defaultSuggestions
	}

	out := make([]string, 0, len(base)+1)
	detailText := strings.ToLower(fmt.Sprintf("%v", details))
	switch {
	case strings.Contains(detailText, "timeout"):
		out = append(out, "The operation timed out - try with smaller data sets")
	case strings.Contains(detailText, "memory"):
		out = append(out, "Insufficient memory - try processing smaller batches")
	case strings.Contains(detailText, "network"):
		out = append(out, "Network issue detected - check your connection")
	}
	return append(out, base...)
}
