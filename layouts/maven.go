package layouts

import (
	"github.com/stratumbuild/stratum/internal/types"
)

// MavenLayout matches a Maven target/ directory where dependencies were
// copied to target/dependency (dependency:copy-dependencies) and compiled
// output lives under target/classes. Compiled class files and everything
// else under target/classes split into code and resources, matching how the
// compiler and the resources plugin share that directory.
type MavenLayout struct{}

func init() {
	RegisterLayout("maven", &MavenLayout{})
}

func (l *MavenLayout) Rules() []types.ClassificationRule {
	return []types.ClassificationRule{
		{Class: types.ClassFixedDependency, Patterns: []string{"target/dependency/**"}},
		{Class: types.ClassApplicationCode, Patterns: []string{"target/classes/**/*.class", "target/classes/*.class"}},
		{Class: types.ClassResource, Patterns: []string{"target/classes/**"}},
	}
}

func (l *MavenLayout) DefaultClass() types.VolatilityClass {
	return types.ClassApplicationCode
}
