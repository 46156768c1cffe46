package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deixis/suiterun/internal/api"
	suitemcp "github.com/deixis/suiterun/internal/mcp"
	"github.com/deixis/suiterun/internal/registry"
)

// shutdownTimeout bounds how long serve waits for in-flight requests and
// killed runs on exit.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOpts) *cobra.Command {
	var httpAddr string
	var instructions bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run registry over MCP (stdio) or HTTP",
		Long: `Serve the run registry.

Without --http (and without http.addr in the config file) the MCP server talks
over stdio. With an address, suiterun serves a JSON API, the MCP streamable
HTTP endpoint at /mcp and Prometheus metrics at /metrics.

On SIGINT or SIGTERM every active run is killed before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), suitemcp.Instructions)
				return nil
			}

			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if httpAddr == "" {
				httpAddr = e.cfg.HTTP.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg, release := e.newRegistry()
			defer release()

			server := suitemcp.NewServer(reg, suitemcp.WithLogger(e.log))
			if httpAddr == "" {
				e.log.Info().Int("suites", len(reg.Suites())).Msg("serving MCP on stdio")
				err = server.Run(ctx, &mcpsdk.StdioTransport{})
			} else {
				err = serveHTTP(ctx, e, reg, server, httpAddr)
			}

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if cerr := reg.Close(closeCtx); cerr != nil {
				e.log.Warn().Err(cerr).Msg("runs still active at exit")
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "serve HTTP on address (e.g. :8080) instead of stdio")
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	return cmd
}

func serveHTTP(ctx context.Context, e *env, reg *registry.Registry, server *mcpsdk.Server, addr string) error {
	gin.SetMode(gin.ReleaseMode)

	mcpHandler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)
	srv := api.New(reg, api.Options{
		Logger:      e.log.With().Str("component", "http").Logger(),
		CORSOrigins: e.cfg.HTTP.CORSOrigins,
		MCP:         mcpHandler,
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.Info().Str("addr", addr).Int("suites", len(reg.Suites())).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
