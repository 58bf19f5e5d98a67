/*
Copyright Quarry Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/log-go"
	logio "github.com/Masterminds/log-go/io"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/pkg/cli"
	"github.com/quarry-sh/quarry/pkg/concretizer"
	"github.com/quarry-sh/quarry/pkg/eyecandy"
)

const solveDesc = `
This command concretizes one or more abstract package requests against a
package repository, turning each request into a fully concrete dependency
graph: every version pinned, every variant decided, every virtual assigned
a provider.

Requests use the spec syntax:

    quarry solve --repo ./packages "hdf5@1.12 +mpi ^zlib@1.2.13"

With --setup-only the generated constraint program is printed instead of
being solved. With --when-possible unsolvable requests are reported but do
not fail the whole solve.
`

type solveOptions struct {
	repoRoot     string
	reuseFile    string
	tests        bool
	deprecated   bool
	whenPossible bool
	setupOnly    bool
	showCores    bool
}

func newSolveCmd(logger log.Logger) *cobra.Command {
	o := &solveOptions{}

	cmd := &cobra.Command{
		Use:   "solve [SPEC...]",
		Short: "concretize abstract package requests",
		Long:  solveDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wInfo := logio.NewWriter(logger, log.InfoLevel)
			return o.run(cmd, wInfo, logger, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.repoRoot, "repo", "", "path to the package repository root")
	f.StringVar(&o.reuseFile, "reuse-file", "", "JSON file with installed concrete specs offered for reuse")
	f.BoolVar(&o.tests, "tests", false, "include test-type dependencies in the solve")
	f.BoolVar(&o.deprecated, "deprecated", false, "allow deprecated versions, at a cost")
	f.BoolVar(&o.whenPossible, "when-possible", false, "solve best-effort instead of all-or-nothing")
	f.BoolVar(&o.setupOnly, "setup-only", false, "print the generated program instead of solving")
	f.BoolVar(&o.showCores, "show-cores", false, "print minimized unsatisfiable cores on failure")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func (o *solveOptions) run(cmd *cobra.Command, out io.Writer, logger log.Logger, args []string) error {
	s, err := loadSolveSettings()
	if err != nil {
		return err
	}

	r, err := repo.Load(o.repoRoot)
	if err != nil {
		return errors.Wrapf(err, "loading repository %q", o.repoRoot)
	}

	cfg := concretizer.NewConfiguration(s, r, logger)
	client := concretizer.NewConcretize(cfg)
	client.Tests = o.tests
	client.AllowDeprecated = o.deprecated
	client.WhenPossible = o.whenPossible
	client.SetupOnly = o.setupOnly

	if o.reuseFile != "" {
		reuse, err := loadReuseSpecs(o.reuseFile)
		if err != nil {
			return err
		}
		client.Reuse = reuse
	}

	result, err := client.Run(cmd.Context(), args)
	if o.setupOnly && err == nil {
		fmt.Fprint(out, result.ProgramText)
		return nil
	}
	if err != nil {
		if result != nil && result.UnsatMessage != "" {
			fmt.Fprintln(out, result.UnsatMessage)
			if o.showCores {
				writeCores(out, result.Cores)
			}
		}
		return err
	}

	writeResult(out, result)
	logger.Info(eyecandy.ESPrint(settings.NoEmojis, "Done! :pick:"))
	return nil
}

func loadSolveSettings() (*cli.Settings, error) {
	if settings.ConfigFile == "" {
		return cli.DefaultSettings(), nil
	}
	return cli.LoadSettings(settings.ConfigFile)
}

func loadReuseSpecs(path string) ([]*spec.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading reuse file %q", path)
	}
	var dicts []*spec.Dict
	if err := json.Unmarshal(data, &dicts); err != nil {
		return nil, errors.Wrapf(err, "parsing reuse file %q", path)
	}
	specs := make([]*spec.Spec, 0, len(dicts))
	for _, d := range dicts {
		sp, err := spec.FromDict(d)
		if err != nil {
			return nil, errors.Wrapf(err, "reuse file %q", path)
		}
		specs = append(specs, sp)
	}
	return specs, nil
}

func writeResult(out io.Writer, result *concretizer.Result) {
	best := result.Best()
	if best == nil {
		for _, u := range result.Unsolved() {
			fmt.Fprintf(out, "could not solve: %s\n", u.Input)
		}
		return
	}

	table := uitable.New()
	table.AddRow("CRITERION", "VALUE")
	for _, c := range result.Criteria {
		table.AddRow(c.Name, c.Value)
	}
	fmt.Fprintln(out, table.String())
	fmt.Fprintln(out)

	green := color.New(color.FgGreen).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	byInput := result.SpecsByInput()
	for _, input := range result.Inputs {
		root, ok := byInput[input]
		if !ok {
			continue
		}
		seen := map[*spec.Spec]bool{}
		writeSpecTree(out, root, 0, seen, green, faint)
	}

	for _, u := range result.Unsolved() {
		fmt.Fprintf(out, "could not solve: %s\n", u.Input)
	}
}

func writeSpecTree(out io.Writer, sp *spec.Spec, depth int, seen map[*spec.Spec]bool, green, faint func(...interface{}) string) {
	indent := strings.Repeat("    ", depth)
	hash := sp.DagHash()
	if len(hash) > 7 {
		hash = hash[:7]
	}
	if seen[sp] {
		fmt.Fprintf(out, "%s%s %s\n", indent, faint(hash), faint(sp.Name+" (^)"))
		return
	}
	seen[sp] = true
	fmt.Fprintf(out, "%s%s %s@%s%s\n", indent, faint(hash), green(sp.Name), sp.Version().String(), variantSummary(sp))
	for _, e := range sp.Edges() {
		writeSpecTree(out, e.Spec, depth+1, seen, green, faint)
	}
}

func variantSummary(sp *spec.Spec) string {
	var b strings.Builder
	for _, v := range sp.SortedVariants() {
		switch {
		case !v.Multi && v.Value() == "true":
			b.WriteString("+" + v.Name)
		case !v.Multi && v.Value() == "false":
			b.WriteString("~" + v.Name)
		default:
			b.WriteString(" " + v.Name + "=" + strings.Join(v.Values, ","))
		}
	}
	return b.String()
}

func writeCores(out io.Writer, cores [][]string) {
	for i, core := range cores {
		fmt.Fprintf(out, "core %d:\n", i+1)
		for _, fact := range core {
			fmt.Fprintf(out, "  %s\n", fact)
		}
	}
}
