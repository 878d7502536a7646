package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kiosktime/internal/config"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/goodtune/kiosktime/internal/usage"
	"github.com/spf13/cobra"
)

var (
	usageFrom string
	usageTo   string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and adjust screen time usage",
	Long:  `Show per-day usage, record manual usage or credits and prune old records.`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show [DATE]",
	Short: "Show the allowance for a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUsageShow,
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List usage records in a date range",
	Args:  cobra.NoArgs,
	RunE:  runUsageList,
}

var usageSessionsCmd = &cobra.Command{
	Use:   "sessions [DATE]",
	Short: "List finished sessions for a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUsageSessions,
}

var usageAddCmd = &cobra.Command{
	Use:     "add-used DATE MINUTES",
	Short:   "Record screen time used outside the kiosk",
	Example: `  kiosktime usage add-used 2024-05-01 20`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUsageAdjust(args, "used", (*screentime.Controller).AddUsedTime)
	},
}

var usageCreditCmd = &cobra.Command{
	Use:     "credit DATE MINUTES",
	Short:   "Grant extra screen time for a day",
	Example: `  kiosktime usage credit 2024-05-02 15`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUsageAdjust(args, "credit", (*screentime.Controller).CreditTimeForDay)
	},
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage and session records older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runUsagePrune,
}

func init() {
	usageListCmd.Flags().StringVar(&usageFrom, "from", "", "First date (YYYY-MM-DD) - defaults to 7 days ago")
	usageListCmd.Flags().StringVar(&usageTo, "to", "", "Last date (YYYY-MM-DD) - defaults to today")

	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageSessionsCmd)
	usageCmd.AddCommand(usageAddCmd)
	usageCmd.AddCommand(usageCreditCmd)
	usageCmd.AddCommand(usagePruneCmd)
	rootCmd.AddCommand(usageCmd)
}

func openServices() (*config.Config, *localServices, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	services, err := openLocalServices(cfg, screentime.RealClock{}, cliLogger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, services, nil
}

// dayArg parses an optional DATE argument, defaulting to today.
func dayArg(args []string) (time.Time, error) {
	if len(args) == 0 || args[0] == "" {
		return storage.StartOfDay(time.Now()), nil
	}
	return storage.ParseDate(args[0])
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	day, err := dayArg(args)
	if err != nil {
		return err
	}

	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	status, err := services.controller.Status(context.Background(), day)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	printDayStatus(status)
	return nil
}

func runUsageList(cmd *cobra.Command, args []string) error {
	today := storage.StartOfDay(time.Now())
	from, to := today.AddDate(0, 0, -6), today

	var err error
	if usageFrom != "" {
		if from, err = storage.ParseDate(usageFrom); err != nil {
			return err
		}
	}
	if usageTo != "" {
		if to, err = storage.ParseDate(usageTo); err != nil {
			return err
		}
	}
	if to.Before(from) {
		return fmt.Errorf("--to must not be before --from")
	}

	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	records, err := services.store.Usage().ListRecords(context.Background(), storage.DateKey(from), storage.DateKey(to))
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-12s %8s %8s\n", "DATE", "USED", "CREDITS")
	for _, record := range records {
		fmt.Printf("%-12s %8d %8d\n", record.Date, record.UsedMinutes, record.Credits)
	}
	if len(records) == 0 {
		fmt.Printf("No usage recorded between %s and %s\n", storage.DateKey(from), storage.DateKey(to))
	}
	return nil
}

func runUsageSessions(cmd *cobra.Command, args []string) error {
	day, err := dayArg(args)
	if err != nil {
		return err
	}

	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	sessions, err := services.store.Sessions().ListSessions(context.Background(), storage.DateKey(day))
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-8s %-8s %8s %8s  %s\n", "START", "END", "MINUTES", "LIMIT", "OUTCOME")
	for _, s := range sessions {
		limit := "-"
		if s.LimitSeconds > 0 {
			limit = strconv.FormatInt(s.LimitSeconds/60, 10)
		}
		fmt.Printf("%-8s %-8s %8d %8s  %s\n",
			s.StartedAt.Local().Format("15:04"),
			s.EndedAt.Local().Format("15:04"),
			s.UsedMinutes, limit, s.Outcome)
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions recorded on %s\n", storage.DateKey(day))
	}
	return nil
}

type adjustment func(c *screentime.Controller, ctx context.Context, minutes int, day time.Time) error

func runUsageAdjust(args []string, kind string, apply adjustment) error {
	day, err := storage.ParseDate(args[0])
	if err != nil {
		return err
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return fmt.Errorf("minutes must be a positive number: %s", args[1])
	}

	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx := context.Background()
	if err := apply(services.controller, ctx, minutes, day); err != nil {
		return fmt.Errorf("failed to record %s minutes: %w", kind, err)
	}

	status, err := services.controller.Status(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	color.New(color.FgGreen).Printf("✅ Recorded %d %s minutes for %s\n", minutes, kind, status.Date)
	printDayStatus(status)
	return nil
}

func runUsagePrune(cmd *cobra.Command, args []string) error {
	cfg, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	scheduler, err := usage.NewResetScheduler(services.store, cfg.Usage.DailyResetTime, cfg.Usage.RetentionDays, cliLogger())
	if err != nil {
		return err
	}

	result, err := scheduler.Prune(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prune usage: %w", err)
	}

	fmt.Println(pruneSummary(result))
	return nil
}

func pruneSummary(result usage.PruneResult) string {
	return fmt.Sprintf("Pruned records before %s: %d usage record(s), %d session(s)",
		result.Cutoff, result.RecordsDeleted, result.SessionsDeleted)
}

func printDayStatus(status screentime.DayStatus) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cyan.Printf("Date:       %s\n", status.Date)
	fmt.Printf("Allowed:    %d minutes\n", status.Allowed)
	fmt.Printf("Credits:    %d minutes\n", status.Credits)
	fmt.Printf("Used:       %d minutes\n", status.Used)
	if status.Remaining > 0 {
		green.Printf("Remaining:  %d minutes\n", status.Remaining)
	} else {
		red.Printf("Remaining:  %d minutes\n", status.Remaining)
	}
}
