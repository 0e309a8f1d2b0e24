package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	versionPattern  = regexp.MustCompile(`\bv?(\d+\.\d+(?:\.\d+)*)\b`)
	quantityPattern = regexp.MustCompile(`(?i)\b([\d,]{1,9})\s+(users|employees|servers|laptops|desktops|workstations|licenses|seats|endpoints|sites|locations|vms|databases|applications|tickets)\b`)
	vendorPattern   = regexp.MustCompile(`(?i)\b(?:from|by|with|provided by|licensed from|supported by)\s+([A-Z][A-Za-z0-9&.\- ]{2,40}?)(?:[,.;]|\s+(?:and|for|which|that)\b|$)`)
	costPattern     = regexp.MustCompile(`(?i)[\$€£]\s?([\d,]+(?:\.\d+)?)\s*(k|m|million|thousand)?\b`)
)

// parseDetails pulls structured attributes (version, quantities, vendor,
// cost) out of a fact sentence. Returns nil when nothing structured was
// found.
func parseDetails(sentence string) map[string]any {
	details := map[string]any{}

	if m := versionPattern.FindStringSubmatch(sentence); m != nil {
		details["version"] = m[1]
	}

	for _, m := range quantityPattern.FindAllStringSubmatch(sentence, 3) {
		raw := strings.ReplaceAll(m[1], ",", "")
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		details[strings.ToLower(m[2])] = n
	}

	if m := vendorPattern.FindStringSubmatch(sentence); m != nil {
		details["vendor"] = strings.TrimSpace(m[1])
	}

	if m := costPattern.FindStringSubmatch(sentence); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		amount, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			switch strings.ToLower(m[2]) {
			case "k", "thousand":
				amount *= 1e3
			case "m", "million":
				amount *= 1e6
			}
			details["cost_usd"] = amount
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}
