package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the kiosktime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

// secretKeys are printed redacted by --dump
var secretKeys = map[string]bool{
	"parental.pin":           true,
	"parental.pin_hash":      true,
	"parental.jwt_secret":    true,
	"storage.redis.password": true,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	if len(unknownKeys) > 0 {
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// Screen time values that load but fall back to defaults at runtime
	if issues := screentime.ValidateConfig(cfg.ScreenTime); len(issues) > 0 {
		fmt.Fprintln(os.Stdout)
		yellow.Fprintf(os.Stdout, "⚠️  WARNING: Found %d screen time setting(s) that will use defaults:\n", len(issues))
		for _, issue := range issues {
			yellow.Fprintf(os.Stdout, "   - %v\n", issue)
		}
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Default())
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig prints every section, highlighting values that differ from the defaults
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	current := reflect.ValueOf(*cfg)
	defaults := reflect.ValueOf(*defaultCfg)
	for i := 0; i < current.NumField(); i++ {
		section := mapstructureName(current.Type().Field(i))
		_, _ = cyan.Printf("\n[%s]\n", section)
		dumpSection(section, "  ", current.Field(i), defaults.Field(i), yellow, green)
	}

	fmt.Println()
	_, _ = yellow.Print("yellow")
	fmt.Print(" = modified, ")
	_, _ = green.Print("green")
	fmt.Println(" = default")
}

func dumpSection(path, indent string, current, defaults reflect.Value, yellow, green *color.Color) {
	for i := 0; i < current.NumField(); i++ {
		name := mapstructureName(current.Type().Field(i))
		key := path + "." + name
		value, defaultValue := current.Field(i), defaults.Field(i)

		if value.Kind() == reflect.Struct {
			fmt.Printf("%s%s:\n", indent, name)
			dumpSection(key, indent+"  ", value, defaultValue, yellow, green)
			continue
		}
		dumpField(key, indent+name, value.Interface(), defaultValue.Interface(), yellow, green)
	}
}

func dumpField(key, label string, value, defaultValue interface{}, yellow, green *color.Color) {
	shown := value
	if secretKeys[key] {
		shown = redactSecret(fmt.Sprint(value))
	}

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = green.Printf("%s: %v\n", label, shown)
	} else {
		_, _ = yellow.Printf("%s: %v\n", label, shown)
	}
}

func mapstructureName(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" {
		return tag
	}
	return strings.ToLower(field.Name)
}

func redactSecret(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
