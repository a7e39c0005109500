package strip

import "strings"

// developerSections are custom sections that carry no execution-relevant data.
var developerSections = map[string]bool{
	"name":                true,
	"producers":           true,
	"sourceMappingURL":    true,
	"external_debug_info": true,
	"target_features":     true,
	"linking":             true,
}

// DeveloperOnly reports whether a custom section named name exists only for
// tooling: debug names, source maps, DWARF, producer and linker data.
func DeveloperOnly(name string) bool {
	return developerSections[name] ||
		strings.HasPrefix(name, "reloc.") ||
		strings.HasPrefix(name, ".debug_")
}
