package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	addr := flag.String("addr", envOr("PONG_ADDR", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", envOr("PONG_DB", "pong.db"), "Path to SQLite results database")
	clientDir := flag.String("client", envOr("PONG_CLIENT_DIR", "../client"), "Path to client directory")
	flag.Parse()

	store, err := OpenResultStore(*dbPath)
	if err != nil {
		log.Fatalf("open result store: %v", err)
	}

	identity := NewIdentityIssuer(store)
	sink := NewAsyncResultSink(store)

	hub := NewHub(identity, sink)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.directory.Shutdown()
	sink.Stop()
	store.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
