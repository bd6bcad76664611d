// Package layouts supplies classification rule presets for the build-output
// conventions of common build tools. A layout is consulted only when the
// policy does not define its own rules.
package layouts

import (
	"fmt"
	"sort"

	"github.com/stratumbuild/stratum/internal/types"
)

// Layout describes one build-output convention. Rules are ordered most
// specific first because classification is first-match-wins.
type Layout interface {
	Rules() []types.ClassificationRule
	DefaultClass() types.VolatilityClass
}

var layouts = make(map[string]Layout)

// RegisterLayout adds a layout under a name.
func RegisterLayout(name string, layout Layout) {
	layouts[name] = layout
}

// GetLayout returns the layout registered under name.
func GetLayout(name string) (Layout, error) {
	layout, exists := layouts[name]
	if !exists {
		return nil, fmt.Errorf("layout %s not found (registered: %v)", name, ListLayouts())
	}
	return layout, nil
}

// ListLayouts returns the registered layout names in sorted order.
func ListLayouts() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
