package main

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/pottery-backend/pottery/cmd/verify/cmds"
	"github.com/pottery-backend/pottery/internal/audit"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/otel"
	workererrors "github.com/pottery-backend/pottery/internal/worker_errors"
)

func runApp(ctx context.Context) int {
	useOTLP, err := strconv.ParseBool(os.Getenv("USE_OTLP"))
	if err != nil {
		useOTLP = false
	}

	shutdown, err := otel.SetupOTelSDK(ctx, otel.Options{ServiceName: "pottery-verify", UseOTLP: useOTLP, Writer: io.Discard})
	if err != nil {
		logger.Logger.Warn("failed to setup otel sdk", "error", err)
	}
	defer func() {
		fail := shutdown(ctx)
		if fail != nil {
			logger.Logger.Warn("no clean shutdown for otel", "error", fail)
		}
	}()

	err = cmds.Execute(ctx)
	if err != nil {
		logger.Logger.Error("verification did not pass", "error", err)
	}
	return workererrors.Code(err)
}

func main() {
	logger.InitConsole(os.Stderr)
	audit.SetOutput(os.Stderr)

	ctx := context.Background()

	os.Exit(runApp(ctx))
}
