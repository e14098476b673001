package pipeline

import (
	"fmt"

	"soundbite/internal/services"
)

// Stage names in execution order.
const (
	StageSummarize = "summarize"
	StageDiscover  = "discover"
	StageClassify  = "classify"
	StageRespond   = "respond"
	StageModerate  = "moderate"
)

// Artifact names flowing between stages. The transcript is the only external
// input; everything else is produced by a stage.
const (
	ArtifactTranscript     = "transcript"
	ArtifactSummary        = "summary"
	ArtifactKeywordSet     = "keyword_set"
	ArtifactPostBatch      = "post_batch"
	ArtifactClassification = "classification_batch"
	ArtifactDraftBatch     = "draft_batch"
)

// Graph variants.
const (
	VariantFull = "full"
	VariantLean = "lean"
)

// Stage describes one step of the promotion pipeline: the artifacts it
// consumes and produces, and how the controller may treat it.
type Stage struct {
	Name    string
	Inputs  []string
	Outputs []string

	// Cacheable stages are skipped when their input fingerprints match the
	// snapshot taken at their last successful completion.
	Cacheable bool

	// Skippable stages complete without running when their gate declines.
	Skippable bool

	// Terminal marks the validation stage; the run reports `validating`
	// while it executes.
	Terminal bool
}

// Graph is an ordered, validated sequence of stages for one variant.
// Topological order is declaration order.
type Graph struct {
	variant string
	stages  []Stage
}

func fullStages() []Stage {
	return []Stage{
		{
			Name:      StageSummarize,
			Inputs:    []string{ArtifactTranscript},
			Outputs:   []string{ArtifactSummary, ArtifactKeywordSet},
			Cacheable: true,
		},
		{
			Name:    StageDiscover,
			Inputs:  []string{ArtifactKeywordSet},
			Outputs: []string{ArtifactPostBatch},
			// External search results change between runs and consume
			// quota, so prior output never satisfies a new run.
			Cacheable: false,
		},
		{
			Name:      StageClassify,
			Inputs:    []string{ArtifactSummary, ArtifactPostBatch},
			Outputs:   []string{ArtifactClassification},
			Cacheable: true,
		},
		{
			Name:      StageRespond,
			Inputs:    []string{ArtifactSummary, ArtifactClassification},
			Outputs:   []string{ArtifactDraftBatch},
			Cacheable: true,
			Skippable: true,
		},
		{
			Name:      StageModerate,
			Inputs:    []string{ArtifactClassification, ArtifactDraftBatch},
			Cacheable: false,
			Terminal:  true,
		},
	}
}

func leanStages() []Stage {
	stages := make([]Stage, 0, 4)
	for _, st := range fullStages() {
		switch st.Name {
		case StageRespond:
			continue
		case StageModerate:
			st.Inputs = []string{ArtifactClassification}
		}
		stages = append(stages, st)
	}
	return stages
}

// NewGraph builds the stage graph for a variant.
func NewGraph(variant string) (*Graph, error) {
	var stages []Stage
	switch variant {
	case VariantFull, "":
		variant = VariantFull
		stages = fullStages()
	case VariantLean:
		stages = leanStages()
	default:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new graph",
			fmt.Sprintf("unknown pipeline variant %q", variant), nil)
	}
	g := &Graph{variant: variant, stages: stages}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Variant reports which variant this graph was built for.
func (g *Graph) Variant() string { return g.variant }

// Stages returns the stages in execution order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Stage looks a stage up by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	for _, st := range g.stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

// StagesFrom returns the suffix of the graph starting at the named stage.
func (g *Graph) StagesFrom(name string) ([]Stage, error) {
	for i, st := range g.stages {
		if st.Name == name {
			out := make([]Stage, len(g.stages)-i)
			copy(out, g.stages[i:])
			return out, nil
		}
	}
	return nil, services.Wrap(services.ErrValidation, "pipeline", "stages from",
		fmt.Sprintf("stage %q is not part of the %s graph", name, g.variant), nil)
}

// validate checks that every stage input is either the external transcript or
// produced by an earlier stage, and that exactly one terminal stage exists.
func (g *Graph) validate() error {
	produced := map[string]bool{ArtifactTranscript: true}
	terminals := 0
	for _, st := range g.stages {
		for _, input := range st.Inputs {
			if !produced[input] {
				return services.Wrap(services.ErrConfiguration, "pipeline", "validate graph",
					fmt.Sprintf("stage %s consumes %q before any stage produces it", st.Name, input), nil)
			}
		}
		for _, output := range st.Outputs {
			produced[output] = true
		}
		if st.Terminal {
			terminals++
		}
	}
	if terminals != 1 {
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate graph",
			fmt.Sprintf("expected exactly one terminal stage, found %d", terminals), nil)
	}
	if last := g.stages[len(g.stages)-1]; !last.Terminal {
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate graph",
			fmt.Sprintf("terminal stage must come last, found %s", last.Name), nil)
	}
	return nil
}
