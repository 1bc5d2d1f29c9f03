package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/console"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/review"
	"github.com/maxkimambo/revgraph/internal/tools"
)

const (
	checkOK   = "ok"
	checkWarn = "warn"
	checkFail = "fail"
)

// doctorCheck is one row of the doctor report.
type doctorCheck struct {
	Name   string
	Status string
	Detail string
}

type externalTool struct {
	name    string
	install string
	purpose string
}

// externalTools are optional: a review runs without them, with a warning.
var externalTools = []externalTool{
	{"git", tools.InstallGit, "needed to review repository URLs"},
	{"bandit", tools.InstallBandit, "Python security scan is skipped without it"},
	{"radon", tools.InstallRadon, "Python complexity scan is skipped without it"},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the tools and configuration a review needs",
	Long: `Check that revgraph is ready to review code.

The configuration is loaded and validated the same way review does it, the
model credentials are inspected, git, bandit and radon are looked up on PATH,
and the run history database is pinged when one is configured.

Missing tools are reported as warnings because a review degrades without them.
An invalid configuration or an unreachable database fails the command.`,
	Example: `  revgraph doctor
  revgraph doctor --provider ollama --model llama3.2
  revgraph doctor --database-url postgres://localhost/revgraph`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().String("provider", "", "Model provider to check (gemini or ollama)")
	doctorCmd.Flags().String("model", "", "Model name to check")
	doctorCmd.Flags().String("database-url", "", "PostgreSQL URL for the run history")
	addConfigFlags(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []doctorCheck

	cfg, err := loadConfig(cmd)
	if err != nil {
		checks = append(checks, doctorCheck{"configuration", checkFail, errors.DisplayErrorSummary(err)})
	} else {
		checks = append(checks, configChecks(cfg)...)
	}
	checks = append(checks, toolChecks(cmd.Context(), tools.ExecRunner{})...)
	if cfg != nil && cfg.DatabaseURL != "" {
		checks = append(checks, databaseCheck(cmd.Context(), cfg.DatabaseURL))
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, doctorTable(checks))

	if failed := countStatus(checks, checkFail); failed > 0 {
		return errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("%d of %d checks failed", failed, len(checks)), "doctor")
	}
	if warned := countStatus(checks, checkWarn); warned > 0 {
		fmt.Fprintln(out, console.Warning("Ready with warnings",
			fmt.Sprintf("%d checks need attention; reviews will be partial", warned)))
		return nil
	}
	fmt.Fprintln(out, console.Success("Ready to review"))
	return nil
}

// configChecks reports the resolved model settings and makes sure the review
// graph builds with them.
func configChecks(cfg *config.Config) []doctorCheck {
	checks := []doctorCheck{{
		Name:   "configuration",
		Status: checkOK,
		Detail: fmt.Sprintf("provider %s, model %s", cfg.LLM.Provider, cfg.LLM.Model),
	}}

	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		if cfg.LLM.APIKey != "" {
			checks = append(checks, doctorCheck{"credentials", checkOK,
				fmt.Sprintf("GOOGLE_API_KEY set (%d characters)", len(cfg.LLM.APIKey))})
		} else {
			checks = append(checks, doctorCheck{"credentials", checkWarn,
				"GOOGLE_API_KEY not set, application default credentials will be used"})
		}
	case config.ProviderOllama:
		checks = append(checks, doctorCheck{"credentials", checkOK, "ollama at " + cfg.LLM.BaseURL})
	}

	g, err := review.New(cfg, nil).Graph()
	if err != nil {
		checks = append(checks, doctorCheck{"review graph", checkFail, errors.DisplayErrorSummary(err)})
	} else {
		checks = append(checks, doctorCheck{"review graph", checkOK,
			fmt.Sprintf("%d tasks: %s", g.Len(), strings.Join(g.Order(), " -> "))})
	}
	return checks
}

// toolChecks looks up every external tool and reports its version.
func toolChecks(ctx context.Context, runner tools.Runner) []doctorCheck {
	checks := make([]doctorCheck, 0, len(externalTools))
	for _, t := range externalTools {
		if err := tools.RequireTool(runner, t.name, t.install); err != nil {
			checks = append(checks, doctorCheck{t.name, checkWarn,
				fmt.Sprintf("not installed, %s. %s", t.purpose, t.install)})
			continue
		}
		res, err := runner.Run(ctx, "", t.name, "--version")
		if err != nil || res.ExitCode != 0 {
			checks = append(checks, doctorCheck{t.name, checkWarn, "installed but --version failed"})
			continue
		}
		checks = append(checks, doctorCheck{t.name, checkOK, firstLine(res.Stdout, res.Stderr)})
	}
	return checks
}

func databaseCheck(ctx context.Context, databaseURL string) doctorCheck {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, closeDB, err := openHistory(ctx, databaseURL)
	defer closeDB()
	if err != nil {
		return doctorCheck{"run history", checkFail, errors.DisplayErrorSummary(err)}
	}
	return doctorCheck{"run history", checkOK, "database reachable, schema ready"}
}

func doctorTable(checks []doctorCheck) string {
	table := console.NewTable("Check", "Status", "Detail")
	for _, c := range checks {
		table.AddRow(c.Name, c.Status, c.Detail)
	}
	return table.String()
}

func countStatus(checks []doctorCheck, status string) int {
	n := 0
	for _, c := range checks {
		if c.Status == status {
			n++
		}
	}
	return n
}

// firstLine returns the first non-empty line of the given outputs. Some tools
// print their version on stderr.
func firstLine(outputs ...[]byte) string {
	for _, out := range outputs {
		for _, line := range strings.Split(string(out), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
		}
	}
	return "installed"
}
