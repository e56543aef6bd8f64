package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/credential/storefake"
	"github.com/jrsteele09/go-wallet-refresh/events"
	"github.com/jrsteele09/go-wallet-refresh/internal/config"
	"github.com/jrsteele09/go-wallet-refresh/internal/utils"
	"github.com/jrsteele09/go-wallet-refresh/notifications"
	"github.com/jrsteele09/go-wallet-refresh/orchestrator"
	"github.com/jrsteele09/go-wallet-refresh/registry"
	"github.com/jrsteele09/go-wallet-refresh/reissue"
	"github.com/jrsteele09/go-wallet-refresh/session"
	"github.com/jrsteele09/go-wallet-refresh/status"
	"github.com/jrsteele09/go-wallet-refresh/token"
)

// refreshd runs the refresh orchestrator standalone against an in-memory
// store: a development harness for watching passes, notifications, and bus
// events without a wallet UI.
func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running refreshd: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("refreshd stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	reg := registry.New()
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	defer pubsub.Close()
	events.NewPublisher(reg, pubsub, logger)

	projection := notifications.NewProjection(reg)
	projection.OnItems(func(items []notifications.Item) {
		for _, item := range items {
			logger.Info().Str("type", string(item.Type)).Str("credentialId", item.OldID).Msg("notification")
		}
	})

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate holder key: %w", err)
	}
	resolver, err := reissue.NewKeyProofResolver(key)
	if err != nil {
		return fmt.Errorf("reissue.NewKeyProofResolver: %w", err)
	}
	pipeline, err := reissue.NewPipeline(resolver, logger)
	if err != nil {
		return fmt.Errorf("reissue.NewPipeline: %w", err)
	}

	bridge := session.NewBridge()
	orch, err := orchestrator.New(logger, reg, bridge,
		orchestrator.Deps{
			Verifier:  status.NewVerifier(logger, status.WithRetries(c.GetStatusListRetries())),
			Refresher: token.NewRefresher(logger),
			Reissuer:  pipeline,
		},
		orchestrator.Options{Interval: utils.Ptr(c.GetRefreshInterval()), AutoStart: utils.Ptr(c.GetAutoStart())},
		orchestrator.WithRecentlyIssuedCap(c.GetRecentlyIssuedCap()),
	)
	if err != nil {
		return fmt.Errorf("orchestrator.New: %w", err)
	}

	bridge.SetReady(&session.Session{Store: demoStore()})
	orch.RunOnce(context.Background(), "startup")

	waitForStopSignal()
	orch.Stop()
	return nil
}

// demoStore seeds one credential with no refresh token so a pass has
// something to walk through.
func demoStore() credential.Store {
	return storefake.NewFakeCredentialStore(
		credential.NewSDJWT(credential.Fields{
			ID:        "demo-credential",
			Issuer:    "https://issuer.example.com",
			CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
			Metadata: &credential.RefreshMetadata{
				IssuerID:                  "https://issuer.example.com",
				CredentialConfigurationID: "org.example.idcard",
			},
			Status: &credential.StatusClaim{ListURI: "https://issuer.example.com/statuslists/1", Index: 42},
		}, "eyJhbGciOiJFUzI1NiJ9.e30.demo"),
	)
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
