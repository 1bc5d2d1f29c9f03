package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/review"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the review task graph",
	Long: `Print the review task graph without running it.

Formats:
  order    execution order with dependencies (default)
  mermaid  mermaid flowchart; routed edges are dotted, critical tasks double bordered
  dot      Graphviz DOT
  json     nodes and edges`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := review.New(config.Default(), nil).Graph()
		if err != nil {
			return err
		}
		return printGraph(cmd.OutOrStdout(), g, graphFormat)
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphFormat, "format", "f", "order", "Output format: order, mermaid, dot or json")
}

func printGraph(w io.Writer, g *taskmanager.Graph, format string) error {
	viz := taskmanager.NewVisualization(g, nil)
	switch strings.ToLower(format) {
	case "order":
		for i, id := range g.Order() {
			task, _ := g.Task(id)
			line := fmt.Sprintf("%d. %s", i+1, id)
			if deps := g.Dependencies(id); len(deps) > 0 {
				line += " <- " + strings.Join(deps, ", ")
			}
			var marks []string
			if task.Critical {
				marks = append(marks, "critical")
			}
			if task.RouteWhen != nil {
				marks = append(marks, "routed")
			}
			if len(marks) > 0 {
				line += " [" + strings.Join(marks, ", ") + "]"
			}
			fmt.Fprintln(w, line)
		}
	case "mermaid":
		fmt.Fprint(w, viz.GenerateMermaid())
	case "dot":
		fmt.Fprint(w, viz.GenerateDOTGraph())
	case "json":
		data, err := json.MarshalIndent(viz.GenerateGraphInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	default:
		return errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown graph format %q", format), "graph").
			WithHint("Use order, mermaid, dot or json")
	}
	return nil
}
