//go:build e2e

package e2e

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
)

var testCtx *TestContext

func TestMain(m *testing.M) {
	flag.Parse()

	if os.Getenv("DOCKER_HOST") == "" && os.Getenv("TESTCONTAINERS_DOCKER_SOCKET") == "" {
		log.Println("Using default Docker socket for testcontainers")
	}

	os.Exit(run(m))
}

// run owns the fixtures so deferred cleanup happens before os.Exit.
func run(m *testing.M) int {
	ctx := context.Background()
	testCtx = &TestContext{}

	log.Println("Starting Postgres container...")
	var err error
	testCtx.PostgresContainer, testCtx.ConnString, err = setupPostgresE(ctx)
	if err != nil {
		log.Printf("Failed to start postgres: %v", err)
		return 1
	}
	defer func() {
		if err := testCtx.PostgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate postgres container: %v", err)
		}
	}()
	log.Println("Postgres container started")

	testCtx.Feed = startFeed()
	defer testCtx.Feed.Close()

	testCtx.ManifestDir, err = os.MkdirTemp("", "chainscout-e2e-manifest-")
	if err != nil {
		log.Printf("Failed to create manifest dir: %v", err)
		return 1
	}
	defer os.RemoveAll(testCtx.ManifestDir)

	log.Println("Starting test server...")
	testCtx.TestServer, testCtx.Store, err = startServerE(testCtx.ConnString, testCtx.Feed.URL, testCtx.ManifestDir)
	if err != nil {
		log.Printf("Failed to start server: %v", err)
		return 1
	}
	defer testCtx.TestServer.Close()
	defer testCtx.Store.Close()
	log.Println("Test server started at:", testCtx.TestServer.URL)

	exitCode := m.Run()
	log.Println("E2E tests completed with exit code:", exitCode)
	return exitCode
}
