package main

import (
	"context"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"

	_ "go2tv.app/screenrec/capture/portal"
	"go2tv.app/screenrec/internal/observability"
)

func main() {
	l, closer, err := observability.NewLogger(observability.LoggerConfigFromEnv(observability.LoggerConfig{
		Level: logger.LevelInfo,
	}))
	if err != nil {
		panic(err)
	}
	ctx := observability.WithLogger(context.Background(), l)

	err = execute(ctx, os.Args[1:])
	belt.Flush(ctx)
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

// execute runs the command line and logs the error that ends it, since
// cobra is told to stay silent.
func execute(ctx context.Context, args []string) error {
	Root.SetArgs(args)
	err := Root.ExecuteContext(ctx)
	if err != nil {
		logger.Errorf(ctx, "%v", err)
	}
	return err
}
