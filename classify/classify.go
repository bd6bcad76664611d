// Package classify assigns a volatility class to every file in a build
// output tree. Classification is rule driven: rules are consulted in order
// and the first match wins, so a file matching several patterns always
// lands in the same class regardless of rule overlap.
package classify

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// Rule maps doublestar patterns to one volatility class. Patterns match
// against slash-separated paths relative to the tree root.
type Rule = types.ClassificationRule

// Config configures a Classifier.
type Config struct {
	Rules           []Rule
	DefaultClass    types.VolatilityClass
	SnapshotMarkers []string
}

// Classifier applies an ordered rule list to file entries.
type Classifier struct {
	rules           []Rule
	defaultClass    types.VolatilityClass
	snapshotMarkers []string
}

// NewClassifier validates the rule set and builds a Classifier.
func NewClassifier(config Config) (*Classifier, error) {
	if len(config.Rules) == 0 && config.DefaultClass == "" {
		return nil, errors.NewConfigurationError("classifier needs at least one rule or a default class", nil)
	}
	for i, rule := range config.Rules {
		if !rule.Class.Valid() {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("rule %d has invalid volatility class %q", i, rule.Class), nil)
		}
		if len(rule.Patterns) == 0 {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("rule %d (%s) has no patterns", i, rule.Class), nil)
		}
		for _, pattern := range rule.Patterns {
			if _, err := doublestar.Match(pattern, "probe"); err != nil {
				return nil, errors.NewConfigurationError(
					fmt.Sprintf("rule %d has bad pattern %q", i, pattern), err)
			}
		}
	}
	if config.DefaultClass != "" && !config.DefaultClass.Valid() {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("default class is invalid: %s", config.DefaultClass), nil)
	}
	return &Classifier{
		rules:           config.Rules,
		defaultClass:    config.DefaultClass,
		snapshotMarkers: config.SnapshotMarkers,
	}, nil
}

// Classify returns the volatility class for one entry path. Dependencies
// whose file name carries a snapshot marker are reclassified as snapshot
// dependencies.
func (c *Classifier) Classify(filePath string) (types.VolatilityClass, error) {
	for _, rule := range c.rules {
		for _, pattern := range rule.Patterns {
			ok, err := doublestar.Match(pattern, filePath)
			if err != nil {
				return "", errors.NewClassificationError(filePath, fmt.Sprintf("pattern %q failed to match", pattern), err)
			}
			if ok {
				return c.refine(rule.Class, filePath), nil
			}
		}
	}
	if c.defaultClass != "" {
		return c.refine(c.defaultClass, filePath), nil
	}
	return "", errors.NewClassificationError(filePath, "no classification rule matched", nil)
}

// ClassifyAll classifies every entry, collecting one error per
// unclassifiable file so a single run reports all of them.
func (c *Classifier) ClassifyAll(entries []types.FileEntry) ([]types.FileEntry, error) {
	collector := errors.NewErrorCollector()
	classified := make([]types.FileEntry, 0, len(entries))
	for _, entry := range entries {
		class, err := c.Classify(entry.Path)
		if err != nil {
			if planErr, ok := errors.AsPlanError(err); ok {
				collector.AddError(planErr)
			} else {
				collector.AddError(errors.NewClassificationError(entry.Path, err.Error(), err))
			}
			continue
		}
		entry.Class = class
		classified = append(classified, entry)
	}
	if err := collector.ToError(); err != nil {
		return nil, err
	}
	return classified, nil
}

// Counts tallies entries per class for logging and the classify command.
func Counts(entries []types.FileEntry) map[string]int {
	counts := make(map[string]int)
	for _, entry := range entries {
		counts[entry.Class.String()]++
	}
	return counts
}

// refine applies snapshot marker detection to fixed dependencies.
func (c *Classifier) refine(class types.VolatilityClass, filePath string) types.VolatilityClass {
	if class != types.ClassFixedDependency {
		return class
	}
	if c.isSnapshot(path.Base(filePath)) {
		return types.ClassSnapshotDependency
	}
	return class
}

// isSnapshot reports whether a file name carries a snapshot marker.
// Matching is case-insensitive.
func (c *Classifier) isSnapshot(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range c.snapshotMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
