package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/smartpos/services/pos/internal/database"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the sync status snapshot",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := initStack(ctx)
	if err != nil {
		return err
	}
	defer database.Close(s.db)

	s.monitor.SetOnline(s.remote.Ping(ctx) == nil)

	status, err := s.service.Status(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
