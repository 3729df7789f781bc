package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/reportflow/pkg/reportflow/config"
)

var rootCmd = &cobra.Command{
	Use:   "reportflow",
	Short: "Durable multi-stage LLM report chains",
	Long: `reportflow turns a design challenge into a structured report by running a
fixed chain of model stages: framing, retrieval, optional evidence and
analogy passes, contradiction analysis, concept generation, evaluation and
the final report.

Chains are durable. Every stage result is journaled, so a crashed process
resumes without paying for finished stages again, and a chain can wait for
days for an answer to its clarifying question.

Settings come from the config file (--config), then REPORTFLOW_* environment
variables, e.g. REPORTFLOW_GATEWAY_PROVIDER=mock or REPORTFLOW_STORE_PATH.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REPORTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	// AllSettings only reports keys viper knows about, so every settings
	// key is bound to its environment variable up front.
	for _, key := range settingKeys() {
		_ = viper.BindEnv(key)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (.yaml, .yml or .json)")
	flags.Bool("json", false, "output JSON")
	flags.String("provider", "", "model provider: anthropic, langchain-anthropic, openai, ollama, claude-cli, mock")
	flags.String("store", "", "store driver: memory or sqlite")
	flags.String("db", "", "sqlite database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("gateway.provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("store.path", flags.Lookup("db"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stepsCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(configCmd())
}

// loadSettings overlays the config file, environment and flags onto the
// defaults and validates the result.
func loadSettings() (config.Settings, error) {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return config.Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	s := config.Defaults().Apply(config.New(nonEmpty(viper.AllSettings())))
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

// nonEmpty drops empty strings, which unset flags bound to viper report.
func nonEmpty(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == "" {
				continue
			}
		case map[string]any:
			v = nonEmpty(val)
		}
		out[k] = v
	}
	return out
}

// settingKeys lists every dotted key of config.Settings.
func settingKeys() []string {
	data, err := yaml.Marshal(config.Defaults())
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil
	}
	var keys []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if sub, ok := v.(map[string]any); ok {
				walk(prefix+k+".", sub)
				continue
			}
			keys = append(keys, prefix+k)
		}
	}
	walk("", m)
	return keys
}
