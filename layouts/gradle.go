package layouts

import (
	"github.com/stratumbuild/stratum/internal/types"
)

// GradleLayout matches a Gradle build/ directory using the application
// plugin: installed dependency jars under build/install/<app>/lib, compiled
// classes under build/classes and processed resources under
// build/resources.
type GradleLayout struct{}

func init() {
	RegisterLayout("gradle", &GradleLayout{})
}

func (l *GradleLayout) Rules() []types.ClassificationRule {
	return []types.ClassificationRule{
		{Class: types.ClassFixedDependency, Patterns: []string{"build/install/*/lib/**", "build/libs/ext/**"}},
		{Class: types.ClassResource, Patterns: []string{"build/resources/**"}},
		{Class: types.ClassApplicationCode, Patterns: []string{"build/classes/**"}},
	}
}

func (l *GradleLayout) DefaultClass() types.VolatilityClass {
	return types.ClassApplicationCode
}
