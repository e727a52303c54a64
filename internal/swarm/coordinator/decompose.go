package coordinator

import (
	"fmt"
	"strings"

	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// decomposedTask is one template-generated step before it is assigned a
// real task ID; deps reference sibling indices within the same
// decomposition, resolved to real IDs once every task has been created.
type decomposedTask struct {
	name         string
	taskType     string
	description  string
	deps         []int // indices into the decomposition's own task slice
	parallelWith []int // informational only; dependency edges are what matter
}

// decomposeObjective returns the ordered task templates for a strategy.
// auto resolves to a concrete strategy via keyword heuristics over the
// description, defaulting to development.
func decomposeObjective(description string, strategy models.ObjectiveStrategy) ([]decomposedTask, models.ObjectiveStrategy) {
	resolved := strategy
	if strategy == models.StrategyAuto {
		resolved = classifyStrategy(description)
	}

	switch resolved {
	case models.StrategyResearch:
		return researchTemplate(description), resolved
	case models.StrategyAnalysis:
		return analysisTemplate(description), resolved
	case models.StrategyTesting:
		return testingTemplate(description), resolved
	case models.StrategyOptimization:
		return optimizationTemplate(description), resolved
	default:
		return developmentTemplate(description), models.StrategyDevelopment
	}
}

// classifyStrategy picks a strategy from keywords in the description;
// unresolved text defaults to development.
func classifyStrategy(description string) models.ObjectiveStrategy {
	d := strings.ToLower(description)

	keywords := []struct {
		strategy models.ObjectiveStrategy
		terms    []string
	}{
		{models.StrategyTesting, []string{"test", "qa", "regression", "coverage"}},
		{models.StrategyOptimization, []string{"optimi", "performance", "tune", "latency", "throughput"}},
		{models.StrategyAnalysis, []string{"analy", "audit", "review", "report"}},
		{models.StrategyResearch, []string{"research", "investigate", "explore", "survey"}},
		{models.StrategyDevelopment, []string{"build", "implement", "develop", "feature", "create"}},
	}

	for _, k := range keywords {
		for _, term := range k.terms {
			if strings.Contains(d, term) {
				return k.strategy
			}
		}
	}
	return models.StrategyDevelopment
}

// developmentTemplate: analysis -> design -> implementation (parallel per
// module, here modelled as a single implementation task since the module
// split is unknown at decomposition time) -> testing -> documentation.
func developmentTemplate(description string) []decomposedTask {
	return []decomposedTask{
		{name: "Analysis", taskType: "analysis", description: "Analyze requirements for: " + description},
		{name: "Design", taskType: "design", description: "Design the approach for: " + description, deps: []int{0}},
		{name: "Implementation", taskType: "coding", description: "Implement: " + description, deps: []int{1}},
		{name: "Testing", taskType: "testing", description: "Test the implementation of: " + description, deps: []int{2}},
		{name: "Documentation", taskType: "documentation", description: "Document: " + description, deps: []int{2}, parallelWith: []int{3}},
	}
}

// researchTemplate: gather -> synthesize -> analyze.
func researchTemplate(description string) []decomposedTask {
	return []decomposedTask{
		{name: "Gather", taskType: "research", description: "Gather sources for: " + description},
		{name: "Synthesize", taskType: "research", description: "Synthesize findings for: " + description, deps: []int{0}},
		{name: "Analyze", taskType: "analysis", description: "Analyze synthesized findings for: " + description, deps: []int{1}},
	}
}

// analysisTemplate: scan -> analyze -> report.
func analysisTemplate(description string) []decomposedTask {
	return []decomposedTask{
		{name: "Scan", taskType: "analysis", description: "Scan for: " + description},
		{name: "Analyze", taskType: "analysis", description: "Analyze scan results for: " + description, deps: []int{0}},
		{name: "Report", taskType: "documentation", description: "Report findings for: " + description, deps: []int{1}},
	}
}

// testingTemplate: plan -> author -> execute -> report.
func testingTemplate(description string) []decomposedTask {
	return []decomposedTask{
		{name: "Plan", taskType: "testing", description: "Plan test coverage for: " + description},
		{name: "Author", taskType: "coding", description: "Author tests for: " + description, deps: []int{0}},
		{name: "Execute", taskType: "testing", description: "Execute tests for: " + description, deps: []int{1}},
		{name: "Report", taskType: "documentation", description: "Report test results for: " + description, deps: []int{2}},
	}
}

// optimizationTemplate: baseline -> measure -> tune -> verify.
func optimizationTemplate(description string) []decomposedTask {
	return []decomposedTask{
		{name: "Baseline", taskType: "analysis", description: "Establish baseline for: " + description},
		{name: "Measure", taskType: "analysis", description: "Measure current behavior of: " + description, deps: []int{0}},
		{name: "Tune", taskType: "coding", description: "Tune: " + description, deps: []int{1}},
		{name: "Verify", taskType: "testing", description: "Verify tuning results for: " + description, deps: []int{2}},
	}
}

func instructionsFor(d decomposedTask) string {
	return fmt.Sprintf("%s\n\n%s", d.name, d.description)
}
