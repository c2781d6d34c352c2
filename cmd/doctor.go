package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chrono/internal/config"
	"github.com/nextlevelbuilder/chrono/internal/lock"
	"github.com/nextlevelbuilder/chrono/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity to Postgres and Redis",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("chrono doctor")
	fmt.Printf("  OS:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:  %s\n", runtime.Version())
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  Config:    FAIL (%s)\n", err)
		return
	}
	fmt.Println("  Config:    OK")
	fmt.Printf("  Recovery:  %s\n", cfg.RecoverPastTasks)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if db, err := pg.OpenDB(cfg.DBURL); err != nil {
		fmt.Printf("  Postgres:  FAIL (%s)\n", err)
	} else {
		fmt.Println("  Postgres:  OK")
		db.Close()
	}

	if locker, err := lock.Open(ctx, cfg.RedisURL); err != nil {
		fmt.Printf("  Redis:     FAIL (%s)\n", err)
	} else {
		fmt.Println("  Redis:     OK")
		locker.Close()
	}
}
