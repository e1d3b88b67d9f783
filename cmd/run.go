/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sunny/manager"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a run on a sunny server",
	Long: `sunny run command.

The run command sends a solve request (model, data, features, cores) to a
server started with 'sunny serve' and prints the scheduled portfolio.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("manager")
		filename, _ := cmd.Flags().GetString("filename")

		fullFilePath, err := filepath.Abs(filename)
		if err != nil {
			return err
		}
		if !fileExists(fullFilePath) {
			return fmt.Errorf("file %s does not exist", fullFilePath)
		}

		slog.Info("Sending run request.", "manager", server, "file", fullFilePath)

		data, err := os.ReadFile(fullFilePath)
		if err != nil {
			return err
		}

		url := fmt.Sprintf("http://%s/runs", server)
		resp, err := http.Post(url, "application/json", bytes.NewBuffer(data))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		d := json.NewDecoder(resp.Body)
		if resp.StatusCode != http.StatusCreated {
			e := manager.ErrResponse{}
			if err := d.Decode(&e); err != nil {
				return fmt.Errorf("request failed with status %d", resp.StatusCode)
			}
			return fmt.Errorf("request failed (%d): %s", e.HTTPStatusCode, e.Message)
		}

		var run manager.Run
		if err := d.Decode(&run); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "run %s on %d cores\n", run.ID, run.Cores)
		return run.Portfolio.Format(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("manager", "m", "localhost:5555", "Server to talk to")
	runCmd.Flags().StringP("filename", "f", "run.json", "Run request file")
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)

	return !errors.Is(err, fs.ErrNotExist)
}
