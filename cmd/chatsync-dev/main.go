// Command chatsync-dev runs the local assistant server used to exercise the
// chat client end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confscout/chatsync/internal/devserver"
)

func main() {
	port := flag.Int("port", 8090, "listen port")
	token := flag.String("token", "", "required handshake credential (empty accepts all)")
	chunkDelay := flag.Duration("chunk-delay", 25*time.Millisecond, "pause between streamed chunks")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	srv, err := devserver.NewServer(context.Background(), devserver.Config{
		Token:      *token,
		ChunkDelay: *chunkDelay,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		log.Printf("Dev assistant listening on %s", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown gracefully: %v", err)
	}
}
