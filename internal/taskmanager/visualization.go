package taskmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Visualization renders a graph, optionally overlaid with the ledger of a run.
type Visualization struct {
	graph  *Graph
	ledger *Ledger
}

// NewVisualization creates a visualization helper. ledger may be nil.
func NewVisualization(g *Graph, ledger *Ledger) *Visualization {
	return &Visualization{graph: g, ledger: ledger}
}

// NodeInfo contains information about a task for visualization
type NodeInfo struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Critical    bool       `json:"critical,omitempty"`
	Routed      bool       `json:"routed,omitempty"`
	Status      Status     `json:"status"`
	SkipReason  SkipReason `json:"skipReason,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// EdgeInfo contains information about an edge for visualization
type EdgeInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphInfo contains the full graph structure for visualization
type GraphInfo struct {
	ID    string        `json:"id"`
	Entry string        `json:"entry"`
	Nodes []NodeInfo    `json:"nodes"`
	Edges []EdgeInfo    `json:"edges"`
	Stats LedgerSummary `json:"stats"`
}

// GenerateGraphInfo creates a representation of the graph for visualization.
// Edges point from a dependency to its dependent.
func (v *Visualization) GenerateGraphInfo() *GraphInfo {
	info := &GraphInfo{
		ID:    v.graph.id,
		Entry: v.graph.entry,
		Nodes: make([]NodeInfo, 0, len(v.graph.order)),
		Stats: LedgerSummary{Total: len(v.graph.order), Pending: len(v.graph.order)},
	}
	if v.ledger != nil {
		info.Stats = v.ledger.Summary()
	}

	for _, id := range v.graph.order {
		task := v.graph.tasks[id]
		node := NodeInfo{
			ID:          id,
			Description: task.Description,
			Critical:    task.Critical,
			Routed:      task.RouteWhen != nil,
			Status:      StatusPending,
		}
		if v.ledger != nil {
			if e, ok := v.ledger.Get(id); ok {
				node.Status = e.Status
				node.SkipReason = e.SkipReason
				node.Attempts = e.Attempts
				if e.Duration > 0 {
					node.Duration = e.Duration.Round(time.Millisecond).String()
				}
				if e.Error != nil {
					node.Error = e.Error.Message
				}
			}
		}
		info.Nodes = append(info.Nodes, node)

		for _, dep := range task.DependsOn {
			info.Edges = append(info.Edges, EdgeInfo{From: dep, To: id})
		}
	}
	return info
}

// ExportToJSON writes the graph info to a JSON file
func (v *Visualization) ExportToJSON(filename string) error {
	data, err := json.MarshalIndent(v.GenerateGraphInfo(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func statusColor(s Status) string {
	switch s {
	case StatusRunning:
		return "lightblue"
	case StatusSucceeded:
		return "lightgreen"
	case StatusFailed:
		return "salmon"
	case StatusSkipped:
		return "khaki"
	default:
		return "lightgrey"
	}
}

// GenerateDOTGraph creates a DOT format graph for Graphviz
func (v *Visualization) GenerateDOTGraph() string {
	info := v.GenerateGraphInfo()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("digraph %q {\n", info.ID))
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled];\n\n")

	for _, node := range info.Nodes {
		label := node.ID
		if v.ledger != nil {
			label += "\\n" + node.Status.String()
			if node.SkipReason != "" {
				label += " (" + string(node.SkipReason) + ")"
			}
			if node.Duration != "" {
				label += "\\n" + node.Duration
			}
		}
		shape := ""
		if node.Critical {
			shape = ", peripheries=2"
		}
		sb.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q%s];\n",
			node.ID, label, statusColor(node.Status), shape))
	}
	sb.WriteString("\n")

	for _, edge := range info.Edges {
		style := ""
		if v.graph.tasks[edge.To].RouteWhen != nil {
			style = " [style=dashed]"
		}
		sb.WriteString(fmt.Sprintf("  %q -> %q%s;\n", edge.From, edge.To, style))
	}
	sb.WriteString("}\n")
	return sb.String()
}

// GenerateMermaid creates a mermaid flowchart. Routed edges are dotted and
// critical tasks are drawn with a double border.
func (v *Visualization) GenerateMermaid() string {
	info := v.GenerateGraphInfo()

	var sb strings.Builder
	sb.WriteString("flowchart LR\n")
	for _, node := range info.Nodes {
		label := node.ID
		if v.ledger != nil {
			label += "<br/>" + node.Status.String()
		}
		if node.Critical {
			sb.WriteString(fmt.Sprintf("    %s[[\"%s\"]]\n", node.ID, label))
		} else {
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", node.ID, label))
		}
	}
	for _, edge := range info.Edges {
		arrow := "-->"
		if v.graph.tasks[edge.To].RouteWhen != nil {
			arrow = "-.->"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", edge.From, arrow, edge.To))
	}
	if v.ledger != nil {
		sb.WriteString("    classDef succeeded fill:#c8f7c5\n")
		sb.WriteString("    classDef failed fill:#f7c5c5\n")
		sb.WriteString("    classDef skipped fill:#f7f0c5\n")
		for _, node := range info.Nodes {
			switch node.Status {
			case StatusSucceeded:
				sb.WriteString(fmt.Sprintf("    class %s succeeded\n", node.ID))
			case StatusFailed:
				sb.WriteString(fmt.Sprintf("    class %s failed\n", node.ID))
			case StatusSkipped:
				sb.WriteString(fmt.Sprintf("    class %s skipped\n", node.ID))
			}
		}
	}
	return sb.String()
}

// GenerateTextSummary creates a human-readable summary of a run
func (v *Visualization) GenerateTextSummary() string {
	info := v.GenerateGraphInfo()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== %s Execution Summary ===\n\n", info.ID))
	sb.WriteString(fmt.Sprintf("  Total: %d  Succeeded: %d  Failed: %d  Skipped: %d  Pending: %d\n\n",
		info.Stats.Total, info.Stats.Succeeded, info.Stats.Failed, info.Stats.Skipped, info.Stats.Pending))

	for _, node := range info.Nodes {
		sb.WriteString(fmt.Sprintf("  - %s: %s", node.ID, node.Status))
		if node.SkipReason != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", node.SkipReason))
		}
		if node.Duration != "" {
			sb.WriteString(fmt.Sprintf(" - %s", node.Duration))
		}
		if node.Error != "" {
			sb.WriteString(fmt.Sprintf(" - Error: %s", node.Error))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
