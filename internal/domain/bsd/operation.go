package bsd

import (
	"strings"
)

var finalOperationCodes = map[string]struct{}{
	"R 0": {}, "R 1": {}, "R 2": {}, "R 3": {}, "R 4": {}, "R 5": {}, "R 6": {},
	"R 7": {}, "R 8": {}, "R 9": {}, "R 10": {}, "R 11": {},
	"D 1": {}, "D 2": {}, "D 3": {}, "D 4": {}, "D 5": {}, "D 6": {}, "D 7": {}, "D 8": {},
	"D 9 F": {}, "D 10": {}, "D 12": {},
}

// Grouping, repackaging and temporary storage codes.
var intermediateOperationCodes = map[string]struct{}{
	"R 12": {}, "R 13": {}, "D 9": {}, "D 13": {}, "D 14": {}, "D 15": {},
}

// NormalizeOperationCode accepts "R1", "r 1" or "R 1" and returns "R 1";
// "D9F" becomes "D 9 F".
func NormalizeOperationCode(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	trimmed = strings.Join(strings.Fields(trimmed), " ")
	if len(trimmed) > 1 && trimmed[1] != ' ' {
		trimmed = trimmed[:1] + " " + trimmed[1:]
	}
	if strings.HasSuffix(trimmed, "F") && !strings.HasSuffix(trimmed, " F") && len(trimmed) > 3 {
		trimmed = trimmed[:len(trimmed)-1] + " F"
	}
	return trimmed
}

func ValidOperationCode(code string) bool {
	normalized := NormalizeOperationCode(code)
	if _, ok := finalOperationCodes[normalized]; ok {
		return true
	}
	_, ok := intermediateOperationCodes[normalized]
	return ok
}

// IsFinalOperationCode reports whether code ends the traceability chain.
func IsFinalOperationCode(code string) bool {
	_, ok := finalOperationCodes[NormalizeOperationCode(code)]
	return ok
}
