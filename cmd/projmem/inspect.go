package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/registry"
)

const dateLayout = "2006-01-02 15:04"

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		project string
		kind    string
		method  string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory across projects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openCLI(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.Search(cmd.Context(), models.SearchRequest{
				Query:       strings.Join(args, " "),
				Limit:       limit,
				Type:        models.RecordType(kind),
				Method:      models.SearchMethod(method),
				ProjectPath: project,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printSearch(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Restrict to one project path")
	cmd.Flags().StringVarP(&kind, "type", "t", "", "Record type: prompt, response, observation, summary")
	cmd.Flags().StringVarP(&method, "method", "m", "hybrid", "Search method: keyword, semantic, hybrid")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}

func newProjectsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List known projects, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openCLI(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			printProjects(cmd.OutOrStdout(), a.svc.ListProjects())
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts and vector state per project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openCLI(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), a.cfg.DataDir, a.cfg.VectorBackend, stats)
			return nil
		},
	}
}

func newTypesCmd(opts *rootOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "types",
		Short: "Count records by type for one project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openCLI(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			p, ok := a.registry.Lookup(project)
			if !ok {
				return fmt.Errorf("no memory recorded for %s", registry.NormalizePath(project))
			}
			stats, err := a.svc.ProjectStats(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			printTypes(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", ".", "Project path")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSimilarity(sim float64) string {
	return fmt.Sprintf("%.1f%%", sim*100)
}

func printSearch(w io.Writer, resp *models.SearchResponse) {
	fmt.Fprintf(w, "%s %s\n",
		headerStyle.Render(fmt.Sprintf("Results for %q", resp.Query)),
		dateStyle.Render(fmt.Sprintf("(%d, method: %s)", resp.Total, resp.Method)))
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, r := range resp.Results {
		project := r.ProjectName
		if project == "" {
			project = r.ProjectID
		}
		fmt.Fprintf(w, "\n%2d. %s %s %s %s %s\n",
			i+1,
			similarityStyle(r.Similarity).Render(formatSimilarity(r.Similarity)),
			titleStyle.Render(string(r.Type)),
			pathStyle.Render(project),
			idStyle.Render(r.SessionID),
			dateStyle.Render(r.Timestamp.Local().Format(dateLayout)))
		fmt.Fprintln(w, contentStyle.Render(excerpt(r.Content, 300)))
	}
}

func printProjects(w io.Writer, projects []models.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects yet.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d projects", len(projects))))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			idStyle.Render(p.ID),
			titleStyle.Render(p.Name),
			pathStyle.Render(p.Path),
			dateStyle.Render(p.LastAccessedAt.Local().Format(dateLayout)))
	}
	tw.Flush()
}

func printStatus(w io.Writer, dataDir, backend string, stats []models.ProjectStats) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Data dir:"), pathStyle.Render(dataDir))
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Vector backend:"), backend)
	if len(stats) == 0 {
		fmt.Fprintln(w, "No projects yet.")
		return
	}

	total := 0
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSESSIONS\tRECORDS\tVECTOR\t")
	for _, s := range stats {
		total += s.Total
		vector := s.VectorState
		if s.KeywordIndexDirty {
			vector += " " + warnStyle.Render("(keyword index dirty)")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n",
			titleStyle.Render(s.Project.Name),
			s.Sessions,
			countStyle.Render(fmt.Sprint(s.Total)),
			vector)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s %s\n", headerStyle.Render("Total records:"), countStyle.Render(fmt.Sprint(total)))
}

func printTypes(w io.Writer, stats *models.ProjectStats) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render(stats.Project.Name), pathStyle.Render(stats.Project.Path))

	types := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		types = append(types, string(t))
	}
	sort.Slice(types, func(i, j int) bool {
		ci, cj := stats.ByType[models.RecordType(types[i])], stats.ByType[models.RecordType(types[j])]
		if ci != cj {
			return ci > cj
		}
		return types[i] < types[j]
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\n", t, stats.ByType[models.RecordType(t)])
	}
	tw.Flush()
	fmt.Fprintf(w, "%s %d\n", headerStyle.Render("Total:"), stats.Total)
}

// excerpt collapses whitespace and cuts s to max runes.
func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
