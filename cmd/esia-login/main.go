// Demo relying party: mounts the ESIA strategy on an echo server and
// accepts any verified identity. Visit /auth/esia/login to start a login.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/northkit/go-esia/pkg/esia"
	"github.com/northkit/go-esia/pkg/prettylog"
)

func main() {
	godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(prettylog.NewHandler(level)))

	configPath := os.Getenv("ESIA_CONFIG")
	if configPath == "" {
		configPath = "esia.yaml"
	}

	strategy, err := esia.NewStrategyFromConfigFile(configPath, verifyIdentity)
	if err != nil {
		slog.Error("Unable to create ESIA strategy", "error", err)
		os.Exit(1)
	}

	root := echo.New()
	root.HideBanner = true

	handler := esia.NewHandler(strategy)
	handler.MountRoutes(root.Group("/auth/esia"))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8089"
	}

	slog.Info("Starting relying party", "addr", addr, "strategy", strategy.Name())
	if err := root.Start(addr); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// verifyIdentity accepts every verified profile. A real host would look up
// or create a local account keyed by profile["oid"] here.
func verifyIdentity(ctx context.Context, accessToken, refreshToken string, profile esia.Profile) (any, string, error) {
	slog.Info("Verified ESIA identity", "oid", profile["oid"], "fullname", profile["fullname"])
	return profile, "", nil
}
