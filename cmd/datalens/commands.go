package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/datalens/internal/assistant"
	"github.com/kalambet/datalens/internal/config"
	"github.com/kalambet/datalens/internal/semcache"
	"github.com/kalambet/datalens/internal/session"
)

// asker is the part of the assistant the interactive commands drive.
type asker interface {
	Ask(ctx context.Context, sess *session.Session, query string) assistant.Reply
}

// localApp loads config and builds the in-process agent for ask and chat.
func localApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return newApp(ctx, cfg, os.Stderr)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question about a data file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		scope, _ := cmd.Flags().GetString("scope")
		out, _ := cmd.Flags().GetString("out")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := localApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.loadSession(ctx, dataPath, false)
		if err != nil {
			return err
		}
		if scope != "" {
			if err := sess.SetScope(scope); err != nil {
				return err
			}
		}

		return runAsk(ctx, a.assistant, sess, strings.Join(args, " "), out, verbose, os.Stdout)
	},
}

func init() {
	askCmd.Flags().String("data", "", "data file to analyze (csv, tsv, zip, xlsx, pdf)")
	askCmd.Flags().String("scope", "", "table to analyze (default: all tables together)")
	askCmd.Flags().String("out", "chart.png", "where to write the chart when the answer is one")
	askCmd.Flags().BoolP("verbose", "v", false, "show the agent's thoughts and tool results")
	askCmd.MarkFlagRequired("data")
}

func runAsk(ctx context.Context, asst asker, sess *session.Session, question, out string, verbose bool, w io.Writer) error {
	mark := len(sess.History())
	reply := asst.Ask(ctx, sess, question)
	if verbose {
		printTurns(sess.History()[mark:])
	}
	return printReply(w, reply, out)
}

// printReply writes the answer text and saves a chart answer as PNG.
func printReply(w io.Writer, reply assistant.Reply, chartPath string) error {
	if reply.Cached {
		fmt.Fprintln(w, colorize(colorDim, "(from cache)"))
	}
	if reply.Chart == nil {
		fmt.Fprintln(w, reply.Answer)
		return nil
	}

	f, err := os.Create(chartPath)
	if err != nil {
		return fmt.Errorf("creating chart file: %w", err)
	}
	if err := reply.Chart.RenderPNG(f); err != nil {
		f.Close()
		return fmt.Errorf("rendering chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}
	fmt.Fprintln(w, reply.Answer)
	printSuccess("Chart saved to %s", chartPath)
	return nil
}

// printTurns traces the assistant's intermediate steps.
func printTurns(turns []session.Turn) {
	for _, t := range turns {
		switch t.Kind {
		case session.KindThought:
			printTrace("thought", t.Text)
		case session.KindObservation:
			printTrace("observation ("+t.Tool+")", t.Text)
		}
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive analysis session over a data file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		outDir, _ := cmd.Flags().GetString("out-dir")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := localApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Loading %s", dataPath)
		sess, err := a.loadSession(ctx, dataPath, true)
		if err != nil {
			return err
		}

		repl := &chatREPL{
			asst:    a.assistant,
			sess:    sess,
			outDir:  outDir,
			verbose: verbose,
			out:     os.Stdout,
		}
		return repl.run(ctx, os.Stdin)
	},
}

func init() {
	chatCmd.Flags().String("data", "", "data file to analyze (csv, tsv, zip, xlsx, pdf)")
	chatCmd.Flags().String("out-dir", ".", "directory for chart PNGs")
	chatCmd.Flags().BoolP("verbose", "v", false, "show the agent's thoughts and tool results")
	chatCmd.MarkFlagRequired("data")
}

type chatREPL struct {
	asst    asker
	sess    *session.Session
	outDir  string
	verbose bool
	out     io.Writer
}

const chatHelp = `Commands:
  /files        list loaded tables
  /scope <name> analyze one table ("all" for every table together)
  /reset        start over with the same data
  /quit         leave`

func (c *chatREPL) run(ctx context.Context, in io.Reader) error {
	c.greet()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, colorize(colorBold, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(line); quit {
				return nil
			}
			continue
		}

		mark := len(c.sess.History())
		reply := c.asst.Ask(ctx, c.sess, line)
		if c.verbose {
			printTurns(c.sess.History()[mark:])
		}
		chartPath := filepath.Join(c.outDir, fmt.Sprintf("chart-%d.png", reply.ChartIndex+1))
		if err := printReply(c.out, reply, chartPath); err != nil {
			printError("%v", err)
		}
	}
}

func (c *chatREPL) greet() {
	fmt.Fprintf(c.out, "Loaded %s. Scope: %s\n", strings.Join(c.sess.TableNames(), ", "), c.sess.ScopeLabel())
	if qs, _ := c.sess.Questions(); len(qs) > 0 {
		fmt.Fprintln(c.out, "Some questions to start with:")
		for i, q := range qs {
			fmt.Fprintf(c.out, "  %d. %s\n", i+1, q)
		}
	}
	fmt.Fprintln(c.out, colorize(colorDim, "Type /help for commands."))
}

// command handles a slash command and reports whether to quit.
func (c *chatREPL) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, chatHelp)
	case "/files":
		for _, n := range c.sess.TableNames() {
			fmt.Fprintf(c.out, "  %s\n", n)
		}
	case "/scope":
		if arg == "" {
			fmt.Fprintf(c.out, "Scope: %s (choices: %s)\n", c.sess.ScopeLabel(), strings.Join(c.sess.Scopes(), ", "))
			return false
		}
		if err := c.sess.SetScope(arg); err != nil {
			var snf *session.ScopeNotFoundError
			if errors.As(err, &snf) {
				printError("unknown table %q; choose one of %s", snf.Scope, strings.Join(c.sess.Scopes(), ", "))
				return false
			}
			printError("%v", err)
			return false
		}
		printSuccess("Scope: %s", c.sess.ScopeLabel())
	case "/reset":
		fresh := session.New(c.sess.Tables())
		if qs, ok := c.sess.Questions(); ok {
			fresh.SetQuestions(qs)
		}
		c.sess = fresh
		printSuccess("Conversation reset")
	default:
		printWarning("unknown command %s, try /help", name)
	}
	return false
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or seed the semantic answer cache of a running server",
}

type cacheResponse struct {
	Stats   semcache.Stats   `json:"stats"`
	Entries []semcache.Entry `json:"entries"`
}

func fetchCache(ctx context.Context, client *apiClient, limit int) (cacheResponse, error) {
	var out cacheResponse
	resp, err := client.get(ctx, fmt.Sprintf("/cache?limit=%d", limit))
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		c, err := fetchCache(cmd.Context(), client, 1)
		if err != nil {
			return err
		}

		dims := make([]string, len(c.Stats.Dims))
		for i, d := range c.Stats.Dims {
			dims[i] = fmt.Sprint(d)
		}
		printStatus("Entries", "%d", c.Stats.Entries)
		printStatus("Threshold", "%.2f", c.Stats.Threshold)
		printStatus("Dimensions", "%s", strings.Join(dims, ", "))
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		c, err := fetchCache(cmd.Context(), client, limit)
		if err != nil {
			return err
		}

		if len(c.Entries) == 0 {
			fmt.Println("Cache is empty.")
			return nil
		}
		for _, e := range c.Entries {
			q := e.Question
			if r := []rune(q); len(r) > 80 {
				q = string(r[:80]) + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("#%d", e.ID)),
				e.CreatedAt.Format("2006-01-02 15:04"),
				q,
			)
		}
		if c.Stats.Entries > len(c.Entries) {
			fmt.Printf("(showing %d of %d entries)\n", len(c.Entries), c.Stats.Entries)
		}
		return nil
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load question/answer pairs into the cache",
	Long:  `The file holds a JSON array of {"question": ..., "answer": ...} objects.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := importCache(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Imported %d entries", n)
		return nil
	},
}

func importCache(ctx context.Context, client *apiClient, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	var pairs []semcache.Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(pairs) == 0 {
		return 0, fmt.Errorf("%s contains no entries", path)
	}

	resp, err := client.post(ctx, "/cache/import", pairs)
	if err != nil {
		return 0, err
	}
	var result struct {
		Imported int `json:"imported"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.Imported, nil
}

func init() {
	cacheListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
