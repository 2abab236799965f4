package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/gyrinx-app/gyrinx-sub001/internal/app"
	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// 由 PersistentPreRunE 初始化，token 子命令不需要
	rt *app.App

	rootCmd = &cobra.Command{
		Use:          "rosterctl",
		Short:        "Operate the roster cost engine: migrations, recompute, repair, catalogue prices",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			if err := godotenv.Load(); err != nil {
				log.Printf("Warning: .env file not found, using environment variables")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			rt = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt != nil {
				rt.Close()
			}
		},
	}
)

func main() {
	registerCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// printJSON 结果输出到 stdout，便于脚本处理
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
