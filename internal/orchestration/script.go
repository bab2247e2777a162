package orchestration

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed refinement.yaml
var refinementYAML []byte

type refinementScript struct {
	Turns []string `yaml:"turns"`
}

// loadRefinementScript parses the embedded phase-2 refinement script.
func loadRefinementScript() (refinementScript, error) {
	var script refinementScript
	if err := yaml.Unmarshal(refinementYAML, &script); err != nil {
		return refinementScript{}, fmt.Errorf("parsing refinement script: %w", err)
	}
	if len(script.Turns) == 0 {
		return refinementScript{}, fmt.Errorf("refinement script has no turns")
	}
	return script, nil
}
