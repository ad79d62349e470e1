package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/scenario"
)

// RehearseOptions holds flags for the rehearse command.
type RehearseOptions struct {
	*RootOptions
}

// RehearsalResult is one scenario's outcome.
type RehearsalResult struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Pass     bool     `json:"pass"`
	Problems []string `json:"problems,omitempty"`
}

// RehearsalSummary is the rehearse command's output.
type RehearsalSummary struct {
	Scenarios []RehearsalResult `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// NewRehearseCommand creates the rehearse command.
func NewRehearseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RehearseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rehearse <scenario>...",
		Short: "Run the pipeline against scripted scenarios",
		Long: `Execute the release state machine against scripted collaborator
outcomes from scenario files, touching nothing real: no builds run, no
artifacts leave the machine, and the version file is a throwaway copy.

Rehearsals validate policy decisions — which failures halt a run, when
the version advances, how conflict policies behave — before they matter
in a real release. Arguments are scenario files or directories to scan
for *.yaml files.

Exit codes:
  0 - Every scenario matched its expectations
  1 - One or more scenarios mismatched
  2 - Command error (unreadable or invalid scenario files)

Examples:
  wheelhouse rehearse scenarios/gate-drift.yaml
  wheelhouse rehearse scenarios/ --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRehearse(opts, args, cmd)
		},
	}

	return cmd
}

func runRehearse(opts *RehearseOptions, args []string, cmd *cobra.Command) error {
	files, err := collectScenarioFiles(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "collecting scenarios", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	summary := RehearsalSummary{Total: len(files)}
	for _, file := range files {
		result := rehearseOne(cmd, file)
		summary.Scenarios = append(summary.Scenarios, result)
		if result.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		renderRehearsal(cmd, summary)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, summary.Total))
	}
	return nil
}

func rehearseOne(cmd *cobra.Command, file string) RehearsalResult {
	result := RehearsalResult{Name: filepath.Base(file), File: file}

	s, err := scenario.Load(file)
	if err != nil {
		result.Problems = []string{err.Error()}
		return result
	}
	result.Name = s.Name

	res, err := scenario.Run(cmd.Context(), s)
	if err != nil {
		result.Problems = []string{err.Error()}
		return result
	}

	result.Problems = scenario.Check(s, res)
	result.Pass = len(result.Problems) == 0
	return result
}

// collectScenarioFiles expands the arguments into scenario file paths:
// files are taken as-is, directories contribute their *.yaml files in
// sorted order.
func collectScenarioFiles(args []string) ([]string, error) {
	files := []string{}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		found := []string{}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
				found = append(found, filepath.Join(arg, entry.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func renderRehearsal(cmd *cobra.Command, summary RehearsalSummary) {
	w := cmd.OutOrStdout()
	for _, result := range summary.Scenarios {
		mark := "✓"
		if !result.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", mark, result.Name)
		for _, problem := range result.Problems {
			fmt.Fprintf(w, "    %s\n", problem)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
}
