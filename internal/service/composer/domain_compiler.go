package composer

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	appErrors "mnemo-backend/pkg/errors"
	"mnemo-backend/pkg/tokens"
)

// SourceKind identifies where a domain text fragment came from. Kinds carry
// fixed weights: setup > pinned > cited > yaml.
type SourceKind string

const (
	SourceSetup  SourceKind = "setup"
	SourcePinned SourceKind = "pinned"
	SourceCited  SourceKind = "cited"
	SourceYAML   SourceKind = "yaml"
)

// DefaultDomainBudget is the default token ceiling for a compiled domain.
const DefaultDomainBudget = 500

var sourceWeights = map[SourceKind]float64{
	SourceSetup:  1.0,
	SourcePinned: 0.9,
	SourceCited:  0.7,
	SourceYAML:   0.5,
}

// DomainSource is one weighted text fragment feeding a compiled domain.
type DomainSource struct {
	Kind    SourceKind
	Content string
}

// Weight returns the fixed weight for the source's kind.
func (s DomainSource) Weight() float64 {
	if w, ok := sourceWeights[s.Kind]; ok {
		return w
	}
	return sourceWeights[SourceYAML]
}

// CompiledDomain is the merged text block with its accounting.
type CompiledDomain struct {
	Text     string
	Tokens   int
	Included int
}

// CompileDomainFromSources merges weighted sources into one block under
// maxTokens (DefaultDomainBudget when zero). Sources are taken by weight
// descending; each is included whole while it fits. If the very first source
// alone exceeds the budget it is word-truncated rather than omitted, so a
// compiled domain is never empty when any source exists.
func CompileDomainFromSources(sources []DomainSource, maxTokens int) CompiledDomain {
	if maxTokens <= 0 {
		maxTokens = DefaultDomainBudget
	}
	if len(sources) == 0 {
		return CompiledDomain{}
	}

	ordered := make([]DomainSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight() > ordered[j].Weight()
	})

	var parts []string
	total := 0
	included := 0
	for _, src := range ordered {
		if src.Content == "" {
			continue
		}
		formatted := fmt.Sprintf("[%s] %s", src.Kind, src.Content)

		sep := 0
		if len(parts) > 0 {
			sep = tokens.Estimate(layerSeparator)
		}
		cost := sep + tokens.Estimate(formatted)

		if total+cost > maxTokens {
			if included == 0 {
				formatted = truncateToTokens(formatted, maxTokens)
				parts = append(parts, formatted)
				total += tokens.Estimate(formatted)
				included++
			}
			break
		}

		parts = append(parts, formatted)
		total += cost
		included++
	}

	return CompiledDomain{
		Text:     strings.Join(parts, layerSeparator),
		Tokens:   total,
		Included: included,
	}
}

// yamlDomainFile is the on-disk shape of a domain source file.
type yamlDomainFile struct {
	Setup  []string `yaml:"setup"`
	Pinned []string `yaml:"pinned"`
	Cited  []string `yaml:"cited"`
	Extra  []string `yaml:"extra"`
}

// ParseYAMLSources reads domain sources from a YAML document with optional
// setup/pinned/cited/extra string lists. Extra fragments get the yaml kind.
func ParseYAMLSources(raw []byte) ([]DomainSource, error) {
	var file yamlDomainFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, appErrors.NewValidation("invalid domain source yaml: " + err.Error())
	}

	var sources []DomainSource
	appendAll := func(kind SourceKind, fragments []string) {
		for _, fragment := range fragments {
			if strings.TrimSpace(fragment) != "" {
				sources = append(sources, DomainSource{Kind: kind, Content: fragment})
			}
		}
	}
	appendAll(SourceSetup, file.Setup)
	appendAll(SourcePinned, file.Pinned)
	appendAll(SourceCited, file.Cited)
	appendAll(SourceYAML, file.Extra)
	return sources, nil
}
