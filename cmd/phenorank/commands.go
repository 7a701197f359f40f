package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/mcp"
	"github.com/dshills/phenorank/internal/pipeline"
	"github.com/dshills/phenorank/internal/ranker"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

var (
	// build / ingest-terms flags
	buildMode   string
	ingestTerms bool
	force       bool

	// rank flags
	rankMode  string
	rankLimit int
	rankJSON  bool

	// serve flags
	serveInit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if serveInit {
			if err := a.pipeline.Initialize(ctx); err != nil {
				logger.Warn("initialization incomplete, inputs load on first use", zap.Error(err))
			}
		}

		server, err := mcp.NewServer(a.pipeline, logger.Named("mcp"))
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Serve(ctx)
		}()

		select {
		case <-ctx.Done():
			logger.Info("received signal, shutting down")
			return nil
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		}
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the disease signature collections",
	Long: `Computes a signature for every annotated disease and writes the average
and/or organ-system collections. Populated collections are kept unless --force
is given. With --ingest-terms the ontology terms are embedded first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var kinds []signature.Kind
		switch buildMode {
		case "all":
			kinds = pipeline.DefaultKinds
		default:
			kind, err := signature.ParseKind(buildMode)
			if err != nil {
				return err
			}
			kinds = []signature.Kind{kind}
		}

		a, err := openApp(ingestTerms)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		report, err := a.pipeline.Setup(ctx, pipeline.SetupOptions{
			IngestTerms: ingestTerms,
			Force:       force,
			Kinds:       kinds,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if report.Ingest != nil {
			fmt.Fprintf(w, "terms\t%s\t%d\texisting=%v\t%s\n",
				report.Ingest.Collection, report.Ingest.Terms, report.Ingest.Existing, report.Ingest.Duration)
		}
		for _, b := range report.Builds {
			fmt.Fprintf(w, "%s\t%s\t%d\tskipped=%d\texisting=%v\t%s\n",
				b.Kind, b.Collection, b.Diseases, b.Skipped, b.Existing, b.Duration)
		}
		return w.Flush()
	},
}

var ingestTermsCmd = &cobra.Command{
	Use:   "ingest-terms",
	Short: "Embed ontology terms into the term collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		stats, err := a.pipeline.IngestTerms(ctx, force)
		if err != nil {
			return err
		}
		fmt.Printf("collection: %s\nterms: %d\nobsolete skipped: %d\nexisting: %v\nduration: %s\n",
			stats.Collection, stats.Terms, stats.Obsolete, stats.Existing, stats.Duration)
		return nil
	},
}

var rankCmd = &cobra.Command{
	Use:   "rank TERM [TERM...]",
	Short: "Rank diseases for a set of phenotype terms",
	Long: `Ranks diseases by distance between the query's signature and each
disease signature. Terms may be given as separate arguments or comma-separated.

Example:
  phenorank rank HP:0001250 HP:0001263 --mode organ --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := signature.ParseKind(rankMode)
		if err != nil {
			return err
		}
		var raw []string
		for _, arg := range args {
			raw = append(raw, strings.Split(arg, ",")...)
		}
		terms := types.ParseTerms(raw)
		if err := types.ValidateTerms(terms); err != nil {
			return err
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		resp, err := a.pipeline.Rank(ctx, terms, kind, rankLimit)
		if err != nil {
			return err
		}

		if rankJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rankRows(resp))
		}

		if len(resp.Missing) > 0 {
			logger.Warn("terms without embeddings ignored", zap.Strings("terms", termStrings(resp.Missing)))
		}
		if len(resp.Unclustered) > 0 {
			logger.Warn("terms outside every organ system ignored", zap.Strings("terms", termStrings(resp.Unclustered)))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tDISEASE\tDISTANCE")
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%d\t%s\t%.6f\n", r.Rank, r.DiseaseID, r.Distance)
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.pipeline.Status(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLE\tCOLLECTION\tVECTORS\tDIM\tCEILING\tBUILDS\tLAST BUILD")
		for _, c := range status.Collections {
			if !c.Exists {
				fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\tnot built\n", c.Role, c.Name)
				continue
			}
			st := c.Status
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
				c.Role, c.Name, st.VectorCount, st.Collection.Dimension,
				ceiling(st.Collection), st.BuildRuns, lastBuild(st))
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("phenorank\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildMode, "mode", "all", "Collections to build: all, average or organ")
	buildCmd.Flags().BoolVar(&ingestTerms, "ingest-terms", false, "Embed ontology terms before building")
	buildCmd.Flags().BoolVar(&force, "force", false, "Rebuild populated collections")

	ingestTermsCmd.Flags().BoolVar(&force, "force", false, "Re-embed a populated term collection")

	rankCmd.Flags().StringVar(&rankMode, "mode", string(signature.KindOrgan), "Signature strategy: organ or average")
	rankCmd.Flags().IntVarP(&rankLimit, "limit", "n", 0, "Maximum results (0 = as many as the store allows)")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "Print results as JSON")

	serveCmd.Flags().BoolVar(&serveInit, "init", true, "Load term embeddings, annotations and ontology at startup")
}

func ceiling(c *storage.Collection) string {
	if c.MaxQueryResults == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", c.MaxQueryResults)
}

func lastBuild(st *storage.CollectionStatus) string {
	if st.LastBuild == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s, %d diseases)", st.LastBuild.FinishedAt.Format("2006-01-02 15:04"),
		st.LastBuild.Kind, st.LastBuild.Diseases)
}

type rankRow struct {
	Rank     int     `json:"rank"`
	Disease  string  `json:"disease_id"`
	Distance float64 `json:"distance"`
}

func rankRows(resp *ranker.Response) []rankRow {
	rows := make([]rankRow, len(resp.Results))
	for i, r := range resp.Results {
		rows[i] = rankRow{Rank: r.Rank, Disease: string(r.DiseaseID), Distance: r.Distance}
	}
	return rows
}

func termStrings(ids []types.TermID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
