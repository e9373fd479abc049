package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"routeview/core-go/internal/controller"
	"routeview/core-go/internal/db"
	"routeview/core-go/internal/geo"
	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/placesearch"
	"routeview/core-go/internal/session"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Letters, digits and underscores only so it can be used unquoted.
	return fmt.Sprintf("routeview_test_%d", time.Now().UnixNano())
}

func createDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	_, err = adminConn.Exec(ctx, "CREATE DATABASE "+dbName)
	return err
}

func dropDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	if _, err := adminConn.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)"); err == nil {
		return nil
	}
	_, err = adminConn.Exec(ctx, "DROP DATABASE "+dbName)
	return err
}

func migrationsDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations"))
}

func applyMigrations(ctx context.Context, conn *pgx.Conn, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	for _, name := range ups {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// openTestPool creates a throwaway database with migrations applied and seed
// statements executed.
func openTestPool(t *testing.T, ctx context.Context, seed ...string) *db.Pool {
	t.Helper()
	adminURL := requireTestDatabaseURL(t)

	dbName := newTestDatabaseName()
	testDBURL := mustDeriveDatabaseURL(t, adminURL, dbName)

	if err := createDatabase(ctx, adminURL, dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		_ = dropDatabase(context.Background(), adminURL, dbName)
	})

	conn, err := pgx.Connect(ctx, testDBURL)
	if err != nil {
		t.Fatalf("connect for migrations: %v", err)
	}
	if err := applyMigrations(ctx, conn, migrationsDir(t)); err != nil {
		_ = conn.Close(ctx)
		t.Fatalf("apply migrations: %v", err)
	}
	for _, stmt := range seed {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close(ctx)
			t.Fatalf("seed: %v", err)
		}
	}
	if err := conn.Close(ctx); err != nil {
		t.Fatalf("close migration connection: %v", err)
	}

	pool, err := db.Open(ctx, testDBURL)
	if err != nil {
		t.Fatalf("open db pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestHandler_Postgres_PlaceSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool := openTestPool(t, ctx,
		`INSERT INTO places (name, state, geom) VALUES
		 ('Austin', 'TX', ST_Multi(ST_GeomFromText('POLYGON((-98 30,-97 30,-97 31,-98 31,-98 30))', 4269))),
		 ('Austwell', 'TX', ST_Multi(ST_GeomFromText('POLYGON((-97 28,-96.5 28,-96.5 28.5,-97 28.5,-97 28))', 4269))),
		 ('Boston', 'MA', ST_Multi(ST_GeomFromText('POLYGON((-71.2 42.2,-71 42.2,-71 42.4,-71.2 42.4,-71.2 42.2))', 4269))),
		 ('100%_Town', 'NV', NULL)`,
	)

	log := NewLogger("error")
	store := placesearch.NewStore(pool.Queries(), placesearch.DefaultLimit)
	reg := session.NewRegistry(log, func(s mapsurface.Surface) *controller.Controller {
		return controller.New(log, s, store, okRoutes(), controller.Options{OverlayProvider: testWMS})
	}, nil, session.Options{})
	router := NewHandler(log, pool, reg, nil).Router()

	if rr := do(t, router, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	id := createSession(t, router)

	rr := do(t, router, http.MethodGet, "/api/v1/sessions/"+id+"/places/aus", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var got []geo.Place
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode places: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Austin" || got[1].Name != "Austwell" {
		t.Fatalf("unexpected places %+v", got)
	}
	if got[0].ID == "" || got[0].State != "TX" {
		t.Fatalf("expected id and state, got %+v", got[0])
	}
	want := geo.Bounds{MinX: -98, MinY: 30, MaxX: -97, MaxY: 31}
	if got[0].Bounds == nil || *got[0].Bounds != want {
		t.Fatalf("expected envelope %v, got %v", want, got[0].Bounds)
	}

	// Matching is case-insensitive through the lower(name) index.
	rr = do(t, router, http.MethodGet, "/api/v1/sessions/"+id+"/places/AUSTW", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode places: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Austwell" {
		t.Fatalf("unexpected places %+v", got)
	}

	// Wildcards in the partial name are matched literally.
	rr = do(t, router, http.MethodGet, "/api/v1/sessions/"+id+"/places/"+url.PathEscape("100%"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode places: %v", err)
	}
	if len(got) != 1 || got[0].Name != "100%_Town" || got[0].Bounds != nil {
		t.Fatalf("unexpected places %+v", got)
	}

	rr = do(t, router, http.MethodGet, "/api/v1/sessions/"+id+"/places/_", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected no match for literal underscore, got %d %s", rr.Code, rr.Body.String())
	}
}
