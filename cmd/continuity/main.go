package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/continuity/internal/analytics"
	"github.com/example/continuity/internal/api"
	"github.com/example/continuity/internal/config"
	"github.com/example/continuity/internal/domain"
	"github.com/example/continuity/internal/extractor"
	"github.com/example/continuity/internal/fetcher"
	"github.com/example/continuity/internal/oracle"
	"github.com/example/continuity/internal/rules"
	"github.com/example/continuity/internal/store"
	"github.com/example/continuity/internal/validator"
)

var (
	dbPath     string
	manuscript string
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "continuity",
		Short: "Story continuity auditor over a persistent narrative graph",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "database path")
	rootCmd.PersistentFlags().StringVarP(&manuscript, "manuscript", "m", api.DefaultManuscript, "manuscript id")

	rootCmd.AddCommand(serveCmd(cfg))
	rootCmd.AddCommand(validateCmd(cfg))
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(factCmd())
	rootCmd.AddCommand(learnCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(dormantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getStore() (*store.Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(dbPath)
}

// buildValidator wires the orchestrator. The extractor is required; the
// adjudicator is optional and replaced by the conservative fallback when
// no API key is configured.
func buildValidator(cfg *config.Config, s *store.Store) (*validator.Orchestrator, error) {
	ext, err := extractor.NewClient(cfg.GroqAPIKey, cfg.ExtractorModel)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	var adjudicator oracle.Adjudicator
	if adj, err := oracle.NewClient(cfg.AnthropicAPIKey, cfg.OracleModel, cfg.OracleTimeout); err == nil {
		adjudicator = adj
	} else {
		fmt.Printf("(adjudicator disabled, contradictions default to errors: %v)\n", err)
	}

	return validator.New(s, ext, adjudicator), nil
}

func serveCmd(cfg *config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := buildValidator(cfg, s)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(s, v, analytics.New(s), addr)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":"+cfg.Port, "server address")
	return cmd
}

func validateCmd(cfg *config.Config) *cobra.Command {
	var chapter int
	var file, pageURL string

	cmd := &cobra.Command{
		Use:   "validate [text]",
		Short: "Validate a scene against the story graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read file: %w", err)
				}
				text = string(data)
			case pageURL != "":
				fetched, err := fetcher.Fetch(cmd.Context(), pageURL)
				if err != nil {
					return fmt.Errorf("fetch url: %w", err)
				}
				text = fetched
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("provide scene text, --file or --url")
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := buildValidator(cfg, s)
			if err != nil {
				return err
			}

			report, err := v.Validate(cmd.Context(), manuscript, chapter, text)
			if err != nil {
				return err
			}

			printReport(report, chapter)
			return nil
		},
	}

	cmd.Flags().IntVarP(&chapter, "chapter", "c", 1, "chapter number")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read scene text from file")
	cmd.Flags().StringVarP(&pageURL, "url", "u", "", "fetch scene text from URL")
	return cmd
}

func printReport(report *domain.Report, chapter int) {
	if report.Status == domain.ReportValid {
		color.Green("Chapter %d: no continuity issues found.", chapter)
		return
	}

	color.Red("Chapter %d: %d continuity alert(s)", chapter, len(report.Alerts))
	for _, alert := range report.Alerts {
		fmt.Println()
		alertColor(alert.Type).Printf("[%s]", alert.Type)
		fmt.Printf(" (confidence %.2f)\n", alert.Confidence)
		fmt.Printf("  %s\n", alert.Message)
		if alert.Suggestion != "" {
			fmt.Printf("  Suggestion: %s\n", alert.Suggestion)
		}
	}
}

func alertColor(t domain.AlertType) *color.Color {
	switch t {
	case domain.AlertCriticalError, domain.AlertRelationshipViolation, domain.AlertKnowledgeLeak:
		return color.New(color.FgRed, color.Bold)
	case domain.AlertNarrativeDevice:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo world (Hero, Villain, a secret fact)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			characters := []struct {
				name, archetype, goal string
			}{
				{"Hero", "Protagonist", "Defeat the villain"},
				{"Villain", "Antagonist", "Rule the realm"},
			}
			for _, c := range characters {
				_, err := s.CreateEntity(ctx, &domain.Entity{
					ManuscriptID:    manuscript,
					Name:            c.name,
					Kind:            domain.KindCharacter,
					Status:          domain.StatusAlive,
					Archetype:       c.archetype,
					Goal:            c.goal,
					LastSeenChapter: 1,
				})
				if err != nil {
					return err
				}
				fmt.Printf("+ character %s\n", c.name)
			}

			if err := s.PutRelationship(ctx, manuscript, "Hero", "Villain", "ENEMY", "sworn foes", 1); err != nil {
				return err
			}
			fmt.Println("+ Hero -[ENEMY]-> Villain")

			if _, err := s.AddFact(ctx, manuscript, "Secret weapon location", "Hidden in the cave"); err != nil {
				return err
			}
			fmt.Println("+ fact: Secret weapon location")

			return nil
		},
	}
}

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List entities in the story graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			nodes, total, err := s.Nodes(cmd.Context(), manuscript, "", 500, 0)
			if err != nil {
				return err
			}
			if total == 0 {
				fmt.Println("No entities yet. Use 'continuity seed' or validate a scene.")
				return nil
			}

			for _, n := range nodes {
				statusColor(n.Status).Printf("%-8s", n.Status)
				fmt.Printf(" %-10s %-24s last seen ch %d\n", n.Kind, n.Name, n.LastSeenChapter)
			}
			return nil
		},
	}
}

func statusColor(s domain.Status) *color.Color {
	switch s {
	case domain.StatusAlive:
		return color.New(color.FgGreen)
	case domain.StatusDead:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name] [alive|dead|unknown]",
		Short: "Set an entity's life status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			status := domain.ParseStatus(args[1])
			if err := s.SetEntityStatus(cmd.Context(), manuscript, args[0], status); err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", args[0], status)
			return nil
		},
	}
}

func eventCmd() *cobra.Command {
	var eventType, description string
	var chapter int

	cmd := &cobra.Command{
		Use:   "event [source] [target]",
		Short: "Record a narrative event between two entities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			normalized := rules.NormalizeType(eventType)
			if !rules.ValidType(normalized) {
				return fmt.Errorf("invalid event type %q", eventType)
			}

			event, err := s.RecordEvent(cmd.Context(), manuscript, normalized, chapter, args[0], args[1], description)
			if err != nil {
				return err
			}
			fmt.Printf("+ %s event between %s and %s in chapter %d\n", event.Type, event.Source, event.Target, event.Chapter)
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventType, "type", "t", rules.EventReconciliation, "event type")
	cmd.Flags().IntVarP(&chapter, "chapter", "c", 1, "chapter number")
	cmd.Flags().StringVarP(&description, "desc", "d", "", "event description")
	return cmd
}

func factCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "fact [label]",
		Short: "Add a fact to the story graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			fact, err := s.AddFact(cmd.Context(), manuscript, strings.Join(args, " "), description)
			if err != nil {
				return err
			}
			fmt.Printf("+ fact %s: %s\n", fact.ID[:8], fact.Label)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "desc", "d", "", "fact description")
	return cmd
}

func learnCmd() *cobra.Command {
	var chapter int

	cmd := &cobra.Command{
		Use:   "learn [character] [fact]",
		Short: "Record that a character learned a fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.GrantKnowledge(cmd.Context(), manuscript, args[0], args[1], chapter); err != nil {
				return err
			}
			fmt.Printf("%s now knows %q\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().IntVarP(&chapter, "chapter", "c", 1, "chapter learned")
	return cmd
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show the character census and dormancy report",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := analytics.New(s).Summary(cmd.Context(), manuscript)
			if err != nil {
				return err
			}

			fmt.Printf("Characters: %d total, %d active, %d inactive\n",
				summary.TotalCharacters, summary.ActiveCount, summary.InactiveCount)
			printDormant(summary.DormantCharacters)
			return nil
		},
	}
}

func dormantCmd() *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "dormant",
		Short: "List characters at risk of being forgotten",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			dormant, err := analytics.New(s).Dormant(cmd.Context(), manuscript, topN)
			if err != nil {
				return err
			}
			printDormant(dormant)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topN, "top", "n", analytics.DefaultTopN, "maximum characters to report")
	return cmd
}

func printDormant(dormant []store.DormantCharacter) {
	if len(dormant) == 0 {
		fmt.Println("No dormant characters.")
		return
	}
	fmt.Println("Dormant characters:")
	for _, d := range dormant {
		color.Yellow("  %-24s last seen ch %d (gap %d)", d.Name, d.LastSeen, d.Gap)
	}
}
