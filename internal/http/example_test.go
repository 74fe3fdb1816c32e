package http_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/clock"
	httpserver "github.com/fyrsmithlabs/cirecover/internal/http"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/secrets"
	"go.uber.org/zap"
)

// ExampleServer serves the guides of a knowledge store.
func ExampleServer() {
	dir, err := os.MkdirTemp("", "cirecover-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := remediation.OpenSQLite(filepath.Join(dir, "knowledge.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	logger := zap.NewNop()
	svc := remediation.NewService(store, secrets.Disabled(), clock.New(), logger)

	server, err := httpserver.NewServer(svc, secrets.Disabled(), logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
