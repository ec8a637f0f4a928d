// Command mcp serves the scoring and discovery tools over MCP on stdio.
// It reads the same environment as the HTTP service; logs go to stderr
// because stdout carries the protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"newface/discovery-service/internal/app"
	"newface/discovery-service/internal/config"
	"newface/discovery-service/internal/logging"
	"newface/discovery-service/internal/mcpserver"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[discovery-mcp] Config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "discovery-mcp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := mcpserver.NewServer("newface-discovery", version, a.Engine, a.Discovery)
	log.Info("mcp serving on stdio", "version", version)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Error("mcp server error", "err", err)
	}
}
