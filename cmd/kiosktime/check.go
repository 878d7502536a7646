package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/spf13/cobra"
)

var (
	checkDate string
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a session may start",
	Long:  `Check the allowance, usage window and access decision kiosktime would apply at a given time.`,
	Example: `  kiosktime -c config.yaml check
  kiosktime check --day saturday --time 08:30
  kiosktime check --date 2024-12-25 --time 10:00`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - ignored with --date")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	checkAt, err := parseCheckTime(time.Now(), checkDate, checkDay, checkTime)
	if err != nil {
		return fmt.Errorf("invalid time specification: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	services, err := openLocalServices(cfg, &screentime.TestClock{CurrentTime: checkAt}, cliLogger())
	if err != nil {
		return err
	}
	defer services.Close()

	ctx := context.Background()
	status, err := services.controller.Status(ctx, checkAt)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	window, err := services.controller.IsWithinUsageTimes(ctx, checkAt)
	if err != nil {
		return fmt.Errorf("failed to check usage window: %w", err)
	}
	decision := services.controller.CanStartSessionAt(ctx, checkAt)

	printCheckResult(services.controller.Settings(), checkAt, status, window, decision)

	return nil
}

func printCheckResult(settings screentime.Settings, checkAt time.Time, status screentime.DayStatus, window screentime.WindowCheck, decision screentime.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("SCREEN TIME CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Check Time: %s (%s)\n", checkAt.Format("2006-01-02 15:04"), checkAt.Weekday())
	if !settings.Enabled {
		yellow.Println("Screen time limits are disabled")
	}
	fmt.Printf("Allowance:  %s mode\n", settings.AllowanceMode)
	fmt.Printf("Window:     %s mode\n", settings.UsageTimesMode)
	fmt.Println()

	fmt.Printf("Allowed:    %d minutes\n", status.Allowed)
	fmt.Printf("Credits:    %d minutes\n", status.Credits)
	fmt.Printf("Used:       %d minutes\n", status.Used)
	if status.Remaining > 0 {
		green.Printf("Remaining:  %d minutes\n", status.Remaining)
	} else {
		red.Printf("Remaining:  %d minutes\n", status.Remaining)
	}

	if window.Within {
		fmt.Printf("Usage Time: inside (%s)\n", window.Label)
	} else {
		yellow.Printf("Usage Time: outside (%s)\n", window.Label)
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Allowed {
		green.Println("ALLOW")
		fmt.Println("            → A session can be started")
	} else {
		red.Println("DENY")
		fmt.Println("            → The kiosk stays locked")
	}
	fmt.Printf("Code:       %s\n", decision.Code)
	if decision.Reason != "" {
		fmt.Printf("Reason:     %s\n", decision.Reason)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime resolves the date, day and time flags against now. An
// explicit date wins over a weekday; a weekday picks the next such day.
func parseCheckTime(now time.Time, dateStr, dayStr, timeStr string) (time.Time, error) {
	hour, minute := now.Hour(), now.Minute()
	if timeStr != "" {
		minutes, err := calendar.ParseTimeOfDay(timeStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format: %w", err)
		}
		hour, minute = minutes/60, minutes%60
	}

	target := now
	switch {
	case dateStr != "":
		day, err := storage.ParseDate(dateStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date: %s", dateStr)
		}
		target = day
	case dayStr != "":
		weekday, err := parseWeekday(dayStr)
		if err != nil {
			return time.Time{}, err
		}
		daysUntilTarget := int(weekday - now.Weekday())
		if daysUntilTarget < 0 {
			daysUntilTarget += 7
		}
		target = now.AddDate(0, 0, daysUntilTarget)
	}

	return time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, now.Location()), nil
}

func parseWeekday(value string) (time.Weekday, error) {
	value = strings.ToLower(value)
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if value == name || value == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid day: %s", value)
}
