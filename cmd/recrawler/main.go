package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recrawler/internal/app"
)

func main() {
	var (
		cfgPath    string
		once       bool
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.BoolVar(&once, "once", false, "run one recrawl cycle, print its summary and exit")
	flag.StringVar(&importPath, "import", "", "seed the index from a JSON Lines file before starting")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if importPath != "" {
		if _, err := a.Import(ctx, importPath); err != nil {
			fmt.Fprintln(os.Stderr, "fatal import:", err)
			_ = a.Stop(context.Background(), app.StopFatalError)
			os.Exit(1)
		}
	}

	if once {
		out := a.RunOnce(ctx)
		fmt.Println(out.Summary())
		_ = a.Stop(context.Background(), app.StopOnceFinished)
		if out.Aborted {
			os.Exit(2)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	<-a.Done()
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
}
