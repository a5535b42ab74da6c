package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n9te9/go-graphql-federation-gateway/gateway"
	"github.com/n9te9/go-graphql-federation-gateway/registry"
)

// RunRegistry starts the persisted-document registration server: clients
// POST a query once and get back a hash, then reference the document by
// hash on every subsequent gateway request instead of resending the body.
func RunRegistry(addr string) error {
	if addr == "" {
		addr = ":8080"
	}

	reg := registry.NewRegistry()
	reg.Start()

	srv := &http.Server{
		Addr:    addr,
		Handler: reg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt, os.Kill)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

func RunGateway(settings gateway.GatewayOption) error {
	gw, err := gateway.NewGateway(settings)
	if err != nil {
		return err
	}

	addr := ":8081"
	if settings.Port != 0 {
		addr = fmt.Sprintf(":%d", settings.Port)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: gw,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt, os.Kill)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
