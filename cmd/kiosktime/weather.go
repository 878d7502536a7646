package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/database"
	"github.com/goodtune/kiosktime/internal/weather"
	"github.com/spf13/cobra"
)

var (
	weatherDays  int
	weatherCount int
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Show the forecast or search for a location",
}

var weatherForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Show the daily forecast for the configured location",
	Args:  cobra.NoArgs,
	RunE:  runWeatherForecast,
}

var weatherSearchCmd = &cobra.Command{
	Use:     "search NAME",
	Short:   "Search for a location by name",
	Example: `  kiosktime weather search "Lyon"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runWeatherSearch,
}

func init() {
	weatherForecastCmd.Flags().IntVar(&weatherDays, "days", 0, "Number of days - defaults to weather.forecast_days")
	weatherSearchCmd.Flags().IntVar(&weatherCount, "count", 5, "Maximum number of results")

	weatherCmd.AddCommand(weatherForecastCmd)
	weatherCmd.AddCommand(weatherSearchCmd)
	rootCmd.AddCommand(weatherCmd)
}

func openWeather() (*weather.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return newWeatherService(cfg.Weather, db, cliLogger()), func() { _ = db.Close() }, nil
}

func runWeatherForecast(cmd *cobra.Command, args []string) error {
	if weatherDays < 0 || weatherDays > weather.MaxForecastDays {
		return fmt.Errorf("--days must be at most %d", weather.MaxForecastDays)
	}

	service, closeDB, err := openWeather()
	if err != nil {
		return err
	}
	defer closeDB()

	report := service.Forecast(context.Background(), weatherDays)

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	cyan.Printf("%s\n", report.Location.DisplayName())
	if report.Source == weather.SourceFallback {
		yellow.Println("Forecast service unavailable, showing placeholder data")
	} else {
		fmt.Printf("Source: %s\n", report.Source)
	}
	fmt.Println()

	for _, day := range report.Days {
		fmt.Printf("%-12s %5.1f° / %5.1f°  %s\n", day.Date, day.TemperatureHigh, day.TemperatureLow, day.Description)
	}
	return nil
}

func runWeatherSearch(cmd *cobra.Command, args []string) error {
	service, closeDB, err := openWeather()
	if err != nil {
		return err
	}
	defer closeDB()

	query := strings.Join(args, " ")
	results, err := service.Search(context.Background(), query, weatherCount)
	if err != nil {
		return fmt.Errorf("location search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No locations found for %q\n", query)
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-32s %10s %10s  %s\n", "NAME", "LATITUDE", "LONGITUDE", "TIMEZONE")
	for _, loc := range results {
		fmt.Printf("%-32s %10.4f %10.4f  %s\n", loc.DisplayName(), loc.Latitude, loc.Longitude, loc.Timezone)
	}
	return nil
}
