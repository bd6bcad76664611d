package layouts

import (
	"github.com/stratumbuild/stratum/internal/types"
)

// ExplodedLayout matches a flat staging tree with libs/, resources/ and
// classes/ at the root. This is the default layout.
type ExplodedLayout struct{}

func init() {
	RegisterLayout("exploded", &ExplodedLayout{})
}

// DefaultLayoutName is used when neither flag nor policy names a layout.
const DefaultLayoutName = "exploded"

func (l *ExplodedLayout) Rules() []types.ClassificationRule {
	return []types.ClassificationRule{
		{Class: types.ClassFixedDependency, Patterns: []string{"libs/**"}},
		{Class: types.ClassResource, Patterns: []string{"resources/**"}},
		{Class: types.ClassApplicationCode, Patterns: []string{"classes/**"}},
	}
}

func (l *ExplodedLayout) DefaultClass() types.VolatilityClass {
	return types.ClassApplicationCode
}
