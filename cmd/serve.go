/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dashcrypt/cryptgen/api"
	"github.com/dashcrypt/cryptgen/api/middleware/auth"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve cryptfile generation over HTTP",
	Long: `Serve the cryptfile API:

  GET  /api/version
  GET  /api/systems
  POST /api/cryptfiles            JSON request, cryptfile response
  POST /api/cryptfiles/inspect    cryptfile request, JSON response
  POST /api/contentprotection     JSON request, ContentProtection elements

The generating routes require a bearer token when --jwks-url is set or the
profile has a JWT secret.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().StringSlice("origins", nil, "allowed CORS origins (default any)")
	serveCmd.Flags().String("jwks-url", "", "verify bearer tokens against this JSON Web Key Set")
}

func serve(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	origins, err := cmd.Flags().GetStringSlice("origins")
	if err != nil {
		return err
	}
	jwksURL, err := cmd.Flags().GetString("jwks-url")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p, err := activeProfile()
	if err != nil {
		return err
	}
	ops := api.Options{AllowedOrigins: origins}
	switch {
	case jwksURL != "":
		mw, err := auth.OidcAuth(ctx, jwksURL)
		if err != nil {
			return err
		}
		ops.Auth = mw
	case p.JWTSecret != "":
		ops.Auth = auth.SharedSecret([]byte(p.JWTSecret))
	default:
		slog.Warn("serving without authentication")
	}

	r := api.NewRouter(ops)
	api.LogRoutes(r)

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopChan)

	errChan := make(chan error, 1)
	// Start the HTTP server in a goroutine
	go func() {
		slog.Info("starting server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-stopChan:
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	// Create a context with a 15-second timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	// Initiate graceful shutdown
	// If it doesn't complete in 15 seconds, it will be forcefully stopped
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}
