package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "vecclf",
		Short:         "vecclf - embed, cluster and classify text corpora",
		Long:          "Turns a labeled text corpus into sentence embeddings, clusters and plots them, and trains a binary classifier on top.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		trainCmd(),
		runCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		printFailure(err)
		stop()
		os.Exit(1)
	}
}
