package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kiosktime/internal/calendar"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/spf13/cobra"
)

var (
	calendarFrom     string
	calendarTo       string
	calendarCategory string
	calendarEntry    calendar.Entry
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage calendar entries",
	Long:  `List, add and delete the calendar entries that drive calendar allowance and usage-time modes.`,
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries occurring in a date range",
	Args:  cobra.NoArgs,
	RunE:  runCalendarList,
}

var calendarAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a calendar entry",
	Example: `  kiosktime calendar add --title "Film night" --date 2024-05-03 --start 18:00 --end 19:30 --category Screentime
  kiosktime calendar add --title "Swimming" --date 2024-05-01 --category Activity --recurring weekly`,
	Args: cobra.NoArgs,
	RunE: runCalendarAdd,
}

var calendarDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a calendar entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalendarDelete,
}

func init() {
	calendarListCmd.Flags().StringVar(&calendarFrom, "from", "", "First date (YYYY-MM-DD) - defaults to today")
	calendarListCmd.Flags().StringVar(&calendarTo, "to", "", "Last date (YYYY-MM-DD) - defaults to 7 days from --from")
	calendarListCmd.Flags().StringVar(&calendarCategory, "category", "", "Only list entries in this category")

	flags := calendarAddCmd.Flags()
	flags.StringVar(&calendarEntry.Title, "title", "", "Entry title (required)")
	flags.StringVar(&calendarEntry.Date, "date", "", "Date (YYYY-MM-DD, required)")
	flags.StringVar(&calendarEntry.StartTime, "start", "", "Start time (HH:MM) - omit for all-day entries")
	flags.StringVar(&calendarEntry.EndTime, "end", "", "End time (HH:MM)")
	flags.StringVar(&calendarEntry.Category, "category", "", "Category (required)")
	flags.StringVar(&calendarEntry.Description, "description", "", "Description")
	flags.StringVar(&calendarEntry.Icon, "icon", "", "Icon file name - defaults per category")
	flags.StringVar(&calendarEntry.Color, "color", "", "Display color - defaults per category")
	flags.BoolVar(&calendarEntry.IsSpecial, "special", false, "Mark as a special event")
	flags.StringVar(&calendarEntry.Recurring, "recurring", "", "Recurrence (daily, weekly or monthly)")
	flags.StringVar(&calendarEntry.RecurringEndDate, "until", "", "Last date of the recurrence (YYYY-MM-DD)")
	_ = calendarAddCmd.MarkFlagRequired("title")
	_ = calendarAddCmd.MarkFlagRequired("date")
	_ = calendarAddCmd.MarkFlagRequired("category")

	calendarCmd.AddCommand(calendarListCmd)
	calendarCmd.AddCommand(calendarAddCmd)
	calendarCmd.AddCommand(calendarDeleteCmd)
	rootCmd.AddCommand(calendarCmd)
}

func runCalendarList(cmd *cobra.Command, args []string) error {
	from := storage.StartOfDay(time.Now())
	var err error
	if calendarFrom != "" {
		if from, err = storage.ParseDate(calendarFrom); err != nil {
			return err
		}
	}
	to := from.AddDate(0, 0, 7)
	if calendarTo != "" {
		if to, err = storage.ParseDate(calendarTo); err != nil {
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

	entries, err := services.calendar.EntriesBetween(context.Background(), from, to, calendarCategory)
	if err != nil {
		return fmt.Errorf("failed to list calendar entries: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-12s %-13s %-12s %-24s %s\n", "DATE", "TIME", "CATEGORY", "TITLE", "ID")
	for _, entry := range entries {
		when := "all day"
		if !entry.IsAllDay() {
			when = entry.StartTime + "-" + entry.EndTime
		}
		fmt.Printf("%-12s %-13s %-12s %-24s %s\n", entry.Date, when, entry.Category, entry.Title, entry.ID)
	}
	if len(entries) == 0 {
		fmt.Printf("No entries between %s and %s\n", storage.DateKey(from), storage.DateKey(to))
	}
	return nil
}

func runCalendarAdd(cmd *cobra.Command, args []string) error {
	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	created, err := services.calendar.Add(context.Background(), calendarEntry)
	if err != nil {
		return fmt.Errorf("failed to add calendar entry: %w", err)
	}

	color.New(color.FgGreen).Printf("✅ Added %q on %s (%s)\n", created.Title, created.Date, created.ID)
	return nil
}

func runCalendarDelete(cmd *cobra.Command, args []string) error {
	_, services, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.calendar.Delete(context.Background(), args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("calendar entry not found: %s", args[0])
		}
		return fmt.Errorf("failed to delete calendar entry: %w", err)
	}

	color.New(color.FgGreen).Printf("✅ Deleted %s\n", args[0])
	return nil
}
