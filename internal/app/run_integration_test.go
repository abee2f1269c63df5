package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/cart/internal/cart"
	"github.com/vladislavdragonenkov/cart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/cart/internal/health"
	grpcsvc "github.com/vladislavdragonenkov/cart/internal/service/grpc"
	"github.com/vladislavdragonenkov/cart/internal/storage/sqlite"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_SQLiteCartSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cart.db")

	runOnce := func(t *testing.T, fn func(client *grpcsvc.CartServiceClient)) {
		t.Helper()

		cfg := DefaultConfig()
		cfg.GRPCAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
		cfg.MetricsAddr = "127.0.0.1:0"
		cfg.StorageDriver = StorageDriverSQLite
		cfg.SQLitePath = dbPath

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- Run(ctx, cfg) }()

		//nolint:staticcheck // grpc.Dial is used for symmetry with bufconn tests
		conn, err := grpc.Dial(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			cancel()
			t.Fatalf("dial failed: %v", err)
		}
		defer conn.Close()

		callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer callCancel()
		client := grpcsvc.NewCartServiceClient(conn)
		if _, err := client.GetCart(callCtx, grpc.WaitForReady(true)); err != nil {
			cancel()
			t.Fatalf("service did not become ready: %v", err)
		}

		fn(client)

		cancel()
		select {
		case err := <-runErr:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not stop")
		}
	}

	runOnce(t, func(client *grpcsvc.CartServiceClient) {
		ctx := context.Background()
		if _, err := client.AddItem(ctx, domain.Product{ID: "p1", Title: "Shirt", ImageURL: "u", Price: 29.9}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		view, err := client.Increment(ctx, "p1")
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if !view.Persisted || view.Items[0].Quantity != 2 {
			t.Fatalf("unexpected view after increment: %+v", view)
		}
	})

	runOnce(t, func(client *grpcsvc.CartServiceClient) {
		view, err := client.GetCart(context.Background())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(view.Items) != 1 || view.Items[0].ID != "p1" || view.Items[0].Quantity != 2 {
			t.Fatalf("cart was not restored: %+v", view)
		}
		if view.TotalFormatted != "R$ 59,80" {
			t.Fatalf("unexpected total %q", view.TotalFormatted)
		}
	})

	kv, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen sqlite failed: %v", err)
	}
	defer kv.Close()
	data, found, err := kv.Get(context.Background(), cart.StorageKey(""))
	if err != nil || !found {
		t.Fatalf("snapshot not found: found=%v err=%v", found, err)
	}
	items, err := cart.Decode(data)
	if err != nil || len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("unexpected stored snapshot %s (err=%v)", data, err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer closeRuntimeDependencies(deps, log.WithField("test", "postgres-init"))

	if deps.kv == nil || deps.closeFn == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	check := deps.storageChecker.Check()
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverRedis
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := initRuntimeDependencies(ctx, cfg, log.WithField("test", "redis-init")); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("CART_POSTGRES_TEST_DSN"))
}
