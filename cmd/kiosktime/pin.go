package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goodtune/kiosktime/internal/session"
	"github.com/spf13/cobra"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Parental PIN helpers",
}

var pinHashCmd = &cobra.Command{
	Use:   "hash [PIN]",
	Short: "Print a bcrypt hash for parental.pin_hash",
	Long: `Print a bcrypt hash of the PIN for use as parental.pin_hash. The PIN is
read from standard input when not given as an argument.`,
	Example: `  echo 2468 | kiosktime pin hash`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runPINHash,
}

func init() {
	pinCmd.AddCommand(pinHashCmd)
	rootCmd.AddCommand(pinCmd)
}

func runPINHash(cmd *cobra.Command, args []string) error {
	var pin string
	if len(args) == 1 {
		pin = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read pin: %w", err)
		}
		pin = strings.TrimSpace(line)
	}
	if pin == "" {
		return fmt.Errorf("pin must not be empty")
	}

	hash, err := session.HashPIN(pin)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
