package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/grace/internal/capability"
	"github.com/kalambet/grace/internal/config"
	"github.com/kalambet/grace/internal/home"
	"github.com/kalambet/grace/internal/pipeline"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- trigger ---

// triggerResult covers both a run summary and a not-configured result.
type triggerResult struct {
	Success bool             `json:"success"`
	Result  pipeline.Summary `json:"result"`
	capability.NotConfiguredResult
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <email|calendar|wyze>",
	Short: "Run one monitor now",
	Long: `Run one monitor now and print its summary.

Examples:
  grace trigger email
  grace trigger wyze --simulate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		simulate, _ := cmd.Flags().GetBool("simulate")
		path := "/trigger/" + url.PathEscape(args[0])
		if simulate {
			if args[0] != "wyze" {
				return fmt.Errorf("--simulate only applies to wyze")
			}
			path = "/trigger/wyze/simulate"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), path, nil)
		if err != nil {
			return err
		}

		var res triggerResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printTriggerResult(os.Stdout, res)
		return nil
	},
}

func printTriggerResult(w io.Writer, res triggerResult) {
	if !res.Success {
		printWarning("%s", res.Error)
		if res.Setup != "" {
			fmt.Fprintf(w, "  %s\n", res.Setup)
		}
		return
	}

	sum := res.Result
	switch sum.Status {
	case pipeline.StatusError:
		printError("%s: could not fetch: %s", sum.Source, sum.Error)
		return
	case pipeline.StatusActed:
		printSuccess("%s: %d new, %d worth your attention", sum.Source, sum.Count, sum.ActedCount)
	default:
		printSuccess("%s: %s", sum.Source, sum.Message)
	}
	for _, d := range sum.Acted {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorCyan, d.Title+":"), d.Message)
	}
}

func init() {
	triggerCmd.Flags().Bool("simulate", false, "run the camera pipeline over one simulated motion event")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Talk to Grace",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdContext(cmd), "/chat", map[string]string{"message": strings.Join(args, " ")})
		if err != nil {
			return err
		}

		var out struct {
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Response)
		return nil
	},
}

// --- memories ---

// memoryView is a stored memory decoded for display. Value is decoded so
// YAML renders it as a mapping rather than raw bytes.
type memoryView struct {
	Key       string    `json:"key" yaml:"key"`
	Value     any       `json:"value" yaml:"value"`
	Category  string    `json:"category" yaml:"category"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List stored verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		format, _ := cmd.Flags().GetString("format")

		path := "/memory"
		if category != "" {
			path += "?category=" + url.QueryEscape(category)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), path)
		if err != nil {
			return err
		}

		var out struct {
			Memories []memoryView `json:"memories"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return printMemories(os.Stdout, format, out.Memories)
	},
}

func printMemories(w io.Writer, format string, memories []memoryView) error {
	if format != formatText {
		return writeFormatted(w, format, memories)
	}
	if len(memories) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return nil
	}
	for _, m := range memories {
		v, _ := json.Marshal(m.Value)
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, m.Key),
			m.Category,
			truncate(string(v), 100),
		)
	}
	return nil
}

func init() {
	memoriesCmd.Flags().String("category", "", "only list this category (emails, calendar, camera)")
	memoriesCmd.Flags().String("format", formatText, "output format: text, json or yaml")
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Show recent chat exchanges",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), fmt.Sprintf("/conversations?limit=%d", limit))
		if err != nil {
			return err
		}

		var out struct {
			Conversations []struct {
				User      string    `json:"user"`
				Bot       string    `json:"bot"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"conversations"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Conversations) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, c := range out.Conversations {
			fmt.Printf("%s\n  %s %s\n  %s %s\n",
				colorize(colorBold, c.Timestamp.Local().Format(time.DateTime)),
				colorize(colorCyan, "You:"), c.User,
				colorize(colorGreen, "Grace:"), c.Bot,
			)
		}
		return nil
	},
}

func init() {
	conversationsCmd.Flags().Int("limit", 10, "number of exchanges to show")
}

// --- weather ---

// weatherResult covers both a suggestion and a not-configured result.
type weatherResult struct {
	home.Suggestion
	capability.NotConfiguredResult
}

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Show the current weather and a suggestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), "/weather")
		if err != nil {
			return err
		}

		var res weatherResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if res.Error != "" {
			printWarning("%s", res.Error)
			fmt.Printf("  %s\n", res.Setup)
			return nil
		}
		c := res.Weather
		printStatus(c.City, "%.0f°F (feels like %.0f°F), %s, %d%% humidity", c.Temp, c.FeelsLike, c.Description, c.Humidity)
		fmt.Println(res.Suggestion.Suggestion)
		return nil
	},
}

// --- lights ---

var lightsCmd = &cobra.Command{
	Use:       "lights <on|off|game_time|status>",
	Short:     "Control smart lights",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "game_time", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		location, _ := cmd.Flags().GetString("location")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmdContext(cmd)
		var path string
		switch args[0] {
		case "status":
			path = "/lights/status"
		case "on", "off", "game_time":
			path = "/lights/" + args[0]
			if location != "" {
				path += "?location=" + url.QueryEscape(location)
			}
		default:
			return fmt.Errorf("unknown lights action %q", args[0])
		}

		var resp any
		if args[0] == "status" {
			r, err := client.get(ctx, path)
			if err != nil {
				return err
			}
			if err := decodeJSON(r, &resp); err != nil {
				return err
			}
		} else {
			r, err := client.post(ctx, path, nil)
			if err != nil {
				return err
			}
			if err := decodeJSON(r, &resp); err != nil {
				return err
			}
		}
		return writeFormatted(os.Stdout, formatJSON, resp)
	},
}

func init() {
	lightsCmd.Flags().String("location", "", "light location (default: "+home.DefaultLocation+")")
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
		format, _ := cmd.Flags().GetString("format")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if format != formatText {
			return writeFormatted(os.Stdout, format, keys)
		}
		printStatus("Settings", "%s", config.Location())
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a credential in the platform secret store",
	Long: "Store a credential in the platform secret store.\n\nSecret keys:\n  " +
		strings.Join(config.SecretKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(config.NewKeychain(), args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("format", formatText, "output format: text, json or yaml")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
