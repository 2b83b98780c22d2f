package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/DATN-PetShop/ServerPetShop/server"
)

func main() {
	s := server.NewServer()

	go func() {
		if err := s.Start(s.Config.Server.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server stopped:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Fatal("Forced shutdown:", err)
	}
}
