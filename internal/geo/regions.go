package geo

import "strings"

// RegionUnknown is stored when a record is committed without a resolved region.
const RegionUnknown = "Unknown"

// permittedRegions is the fixed set of Nigerian states the service accepts.
// Matching is exact after suffix normalization; the list is never mutated.
var permittedRegions = []string{
	"Abia", "Adamawa", "Akwa Ibom", "Anambra", "Bauchi", "Bayelsa", "Benue", "Borno",
	"Cross River", "Delta", "Ebonyi", "Edo", "Ekiti", "Enugu", "FCT", "Gombe", "Imo",
	"Jigawa", "Kaduna", "Kano", "Katsina", "Kebbi", "Kogi", "Kwara", "Lagos", "Nasarawa",
	"Niger", "Ogun", "Ondo", "Osun", "Oyo", "Plateau", "Rivers", "Sokoto", "Taraba", "Yobe", "Zamfara",
}

var regionIndex = func() map[string]string {
	idx := make(map[string]string, len(permittedRegions))
	for _, r := range permittedRegions {
		idx[strings.ToLower(r)] = r
	}
	return idx
}()

// NormalizeRegion strips the " State" suffix and maps the result onto the
// permitted set, case-insensitively. The second return reports membership.
func NormalizeRegion(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if len(name) > 6 && strings.EqualFold(name[len(name)-6:], " state") {
		name = name[:len(name)-6]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	canonical, ok := regionIndex[strings.ToLower(name)]
	return canonical, ok
}

// Regions returns a copy of the permitted region names.
func Regions() []string {
	return append([]string(nil), permittedRegions...)
}
