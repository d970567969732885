package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/chatgate/internal/config"
)

var knownProviders = []string{"deepseek", "qwen", "glm"}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for gateway details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Chatgate Configuration Setup")

	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("Host [%s]: ", config.DefaultHost)
	host, _ := reader.ReadString('\n')
	host = strings.TrimSpace(host)

	fmt.Printf("Port [%d]: ", config.DefaultPort)
	portText, _ := reader.ReadString('\n')
	portText = strings.TrimSpace(portText)

	port := 0
	if portText != "" {
		p, err := strconv.Atoi(portText)
		if err != nil {
			return fmt.Errorf("invalid port %q", portText)
		}

		port = p
	}

	fmt.Print("Gateway API Key (optional, for client authentication): ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	cfg := &config.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	}

	for _, name := range knownProviders {
		cfg.Providers = append(cfg.Providers, config.Provider{Name: name})
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("Register accounts with: %s account add", AppName)
	color.Cyan("Then start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Database", cfg.DatabasePath)
	fmt.Printf("  %-15s: %d\n", "PoW Workers", cfg.PowWorkers)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	if len(cfg.Providers) > 0 {
		fmt.Println("\nProviders:")

		for _, provider := range cfg.Providers {
			fmt.Printf("  - Name: %s\n", provider.Name)

			if len(provider.Endpoints) > 0 {
				fmt.Printf("    Endpoints: %v\n", provider.Endpoints)
			}

			if provider.Disabled {
				fmt.Println("    Disabled: true")
			}
		}
	}

	if len(cfg.ModelMappings) > 0 {
		fmt.Println("\nModel Mappings:")

		for category, target := range cfg.ModelMappings {
			fmt.Printf("  %-10s -> %s\n", category, target)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", cfg.Port))
	}

	enabled := 0

	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			problems = append(problems, fmt.Sprintf("provider %d: name is required", i))
			continue
		}

		if !isKnownProvider(provider.Name) {
			problems = append(problems, fmt.Sprintf("provider %d: unknown name %q", i, provider.Name))
		}

		if !provider.Disabled {
			enabled++
		}
	}

	if len(cfg.Providers) > 0 && enabled == 0 {
		problems = append(problems, "all configured providers are disabled")
	}

	for category, target := range cfg.ModelMappings {
		switch category {
		case "opus", "sonnet", "haiku", "default":
		default:
			problems = append(problems, fmt.Sprintf("unknown model mapping category %q", category))
		}

		if target == "" {
			problems = append(problems, fmt.Sprintf("model mapping %q has empty target", category))
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")

		for _, problem := range problems {
			fmt.Printf("  - %s\n", problem)
		}

		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func isKnownProvider(name string) bool {
	for _, known := range knownProviders {
		if name == known {
			return true
		}
	}

	return false
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
