// Package visualization renders a lifecycle Definition as Graphviz DOT or SVG
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anggasct/admitflow"
)

// DOTGenerator generates Graphviz DOT representations of a lifecycle
type DOTGenerator struct {
	definition *admitflow.Definition
	options    DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowGuardConditions bool
	ShowActions         bool
	RankDirection       string // "TB", "LR", "BT", "RL"
	NodeShape           string
	TransitionStyle     string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowGuardConditions: true,
		ShowActions:         false,
		RankDirection:       "LR",
		NodeShape:           "box",
		TransitionStyle:     "solid",
	}
}

// NewDOTGenerator creates a new DOT generator for the given definition
func NewDOTGenerator(definition *admitflow.Definition, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator{
		definition: definition,
		options:    opts,
	}
}

// Generate creates a DOT representation of the lifecycle. Output is stable:
// states and edges follow declaration order.
func (g *DOTGenerator) Generate() (string, error) {
	if g.definition == nil {
		return "", admitflow.NewConfigurationError("visualization", "definition is nil")
	}

	var dot strings.Builder

	name := g.definition.Name()
	if name == "" {
		name = "Lifecycle"
	}
	fmt.Fprintf(&dot, "digraph %q {\n", name)
	fmt.Fprintf(&dot, "  rankdir=%s;\n", g.options.RankDirection)
	fmt.Fprintf(&dot, "  node [shape=%s];\n", g.options.NodeShape)
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generateStates(&dot)
	dot.WriteString("\n")
	g.generateTransitions(&dot)

	dot.WriteString("}\n")
	return dot.String(), nil
}

func (g *DOTGenerator) generateStates(dot *strings.Builder) {
	initial := g.definition.InitialState()

	dot.WriteString("  // States\n")
	if initial != "" {
		dot.WriteString("  \"__start\" [shape=point];\n")
	}
	for _, status := range g.definition.States() {
		shape := g.options.NodeShape
		fill := "lightblue"
		label := string(status)

		switch {
		case g.definition.IsFinal(status):
			shape = "doublecircle"
			fill = "lightcoral"
		case status == initial:
			fill = "lightgreen"
			label += "\\n(initial)"
		}

		fmt.Fprintf(dot, "  %q [shape=%s style=\"filled\" fillcolor=%s label=\"%s\"];\n",
			string(status), shape, fill, label)
	}
	if initial != "" {
		fmt.Fprintf(dot, "  \"__start\" -> %q;\n", string(initial))
	}
}

func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	dot.WriteString("  // Transitions\n")
	for _, t := range g.definition.Transitions() {
		label := t.EventName
		if g.options.ShowGuardConditions && t.Guard != nil {
			guard := t.GuardName
			if guard == "" {
				guard = "guard"
			}
			label += fmt.Sprintf("\\n[%s]", guard)
		}
		if g.options.ShowActions && t.Action != nil {
			label += "\\n/ action"
		}
		fmt.Fprintf(dot, "  %q -> %q [label=\"%s\" style=%s];\n",
			string(t.SourceState), string(t.TargetState), label, g.options.TransitionStyle)
	}
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(definition *admitflow.Definition, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(definition, options...),
	}
}

// Generate creates an SVG representation of the lifecycle
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG is a shortcut for NewSVGGenerator(...).Generate()
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
