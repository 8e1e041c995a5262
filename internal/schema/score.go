package schema

import "strings"

// SelectColumn returns the column matching the first pattern exactly, else the
// first column containing the first pattern that matches as a substring.
// Matching is case-insensitive; the column is returned as given.
func SelectColumn(columns, patterns []string) string {
	return selectColumnExcept(columns, patterns, "")
}

func selectColumnExcept(columns, patterns []string, skip string) string {
	skip = strings.ToUpper(skip)
	for _, p := range patterns {
		p = strings.ToUpper(p)
		for _, c := range columns {
			if u := strings.ToUpper(c); u == p && u != skip {
				return c
			}
		}
	}
	for _, p := range patterns {
		p = strings.ToUpper(p)
		for _, c := range columns {
			if u := strings.ToUpper(c); strings.Contains(u, p) && u != skip {
				return c
			}
		}
	}
	return ""
}

func hasColumn(columns, patterns []string) bool {
	return SelectColumn(columns, patterns) != ""
}

func nameHasToken(table string, tokens []string) bool {
	upper := strings.ToUpper(table)
	for _, t := range tokens {
		if strings.Contains(upper, t) {
			return true
		}
	}
	return false
}

// MaterialsScore is the weighted pattern score of a materials candidate.
func MaterialsScore(table string, columns []string) float64 {
	var score float64
	if nameHasToken(table, MaterialsTableTokens) {
		score += WeightMaterialsTable
	}
	if hasColumn(columns, CodeScorePatterns) {
		score += WeightCode
	}
	if hasColumn(columns, NameScorePatterns) {
		score += WeightName
	}
	if hasColumn(columns, PriceScorePatterns) {
		score += WeightPrice
	}
	if hasColumn(columns, VATScorePatterns) {
		score += WeightVAT
	}
	if hasColumn(columns, UnitScorePatterns) {
		score += WeightUnit
	}
	return score
}

// BarcodeScore is the weighted pattern score of a barcode candidate.
func BarcodeScore(table string, columns []string) float64 {
	var score float64
	if nameHasToken(table, BarcodeTableTokens) {
		score += WeightBarcodeTable
	}
	if hasColumn(columns, BarcodeColumnScorePatterns) {
		score += WeightBarcodeColumn
	}
	if hasColumn(columns, BarcodeFKScorePatterns) {
		score += WeightBarcodeFK
	}
	return score
}
