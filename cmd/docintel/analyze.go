package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adverant/nexus/docintel/internal/dashboard"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/spf13/cobra"
)

const cliSession = "cli"

func newAnalyzeCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run one document through the pipeline and print the results",
		Long: `Rasterize a PDF or image file, run every model stage over its pages and
print the result bundle. Progress for each stage is written to stderr.

The bundle is also stored under the given session id, so a running server
sharing the same Redis result store shows it on that session's dashboard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			progress := &terminalReporter{out: cmd.ErrOrStderr()}
			result, err := a.service.AnalyzeFile(cmd.Context(), session, args[0], progress)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(out, result)
			if !result.Complete() {
				return fmt.Errorf("%d of %d stages did not succeed", len(result.Failed()), len(processor.Stages))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", cliSession, "session id to store the result bundle under")
	return cmd
}

func printResult(w io.Writer, r *processor.Result) {
	printHeader(w, "Document")
	printField(w, "File", r.Document)
	printField(w, "Pages", fmt.Sprint(r.PageCount))
	printField(w, "Run", r.RunID)
	printField(w, "Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String())

	printHeader(w, "Summary")
	printField(w, "Language", valueOr(r.Language))
	printField(w, "Summary", valueOr(r.Summary))
	if r.HasTopics() {
		keyColor.Fprintln(w, "  Top Topics:")
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, r.Topics, "    ", "  "); err != nil {
			fmt.Fprintf(w, "    %s\n", r.Topics)
		} else {
			fmt.Fprintf(w, "    %s\n", pretty.String())
		}
	} else {
		printField(w, "Top Topics", "(not available)")
	}

	printHeader(w, "NER Analysis")
	if r.Entities == nil {
		printField(w, "Entities", "(not available)")
	} else {
		printField(w, "Entities", fmt.Sprint(len(r.Entities)))
		for _, c := range dashboard.CountCategories(r.Entities) {
			fmt.Fprintf(w, "    %-12s %d\n", c.Category, c.Count)
		}
	}

	if failed := r.Failed(); len(failed) > 0 {
		printHeader(w, "Incomplete stages")
		for _, o := range failed {
			errorColor.Fprintf(w, "  %s (%s): %s\n", o.Stage.Title(), o.Status, o.Error)
			if o.JobURL != "" {
				fmt.Fprintf(w, "    %s\n", o.JobURL)
			}
		}
	}
}

func valueOr(s *string) string {
	if s == nil {
		return "(not available)"
	}
	return *s
}
