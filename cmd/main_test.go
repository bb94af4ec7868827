package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/pagespeed/internal/adapters/repository"
	"github.com/okian/pagespeed/internal/domain/model"
)

const lighthouseBody = `{
  "lighthouseResult": {
    "categories": {
      "performance": {"score": 0.873},
      "accessibility": {"score": 0.91},
      "best-practices": {"score": 1},
      "seo": {"score": 0.5},
      "pwa": {"score": 0.3}
    },
    "audits": {
      "first-contentful-paint": {"numericValue": 1200.5},
      "largest-contentful-paint": {"numericValue": 2400},
      "cumulative-layout-shift": {"numericValue": 0.05},
      "interactive": {"numericValue": 3100},
      "total-blocking-time": {"numericValue": 150},
      "speed-index": {"numericValue": 1800}
    }
  }
}`

// execute runs the root command with args and returns what it printed.
func execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// isolate clears PAGESPEED_ variables and runs the test from an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PAGESPEED_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(lighthouseBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRunCommand(t *testing.T) {
	convey.Convey("Given the run command", t, func() {
		dir := isolate(t)
		upstream, hits := newUpstream(t)
		t.Setenv("PAGESPEED_API_URL", upstream.URL)
		t.Setenv("PAGESPEED_API_KEY", "test-key")
		t.Setenv("PAGESPEED_LOG_LEVEL", "error")

		convey.Convey("When scoring a batch into an in-memory store", func() {
			t.Setenv("PAGESPEED_DB_DRIVER", "memory")

			out, _, err := execute("run", "--urls", "a.com, b.com")

			convey.Convey("Then every url is scored on both devices in order", func() {
				convey.So(err, convey.ShouldBeNil)

				var results []model.ScoreResult
				convey.So(json.Unmarshal([]byte(out), &results), convey.ShouldBeNil)
				convey.So(results, convey.ShouldHaveLength, 4)
				convey.So(results[0].URL, convey.ShouldEqual, "a.com")
				convey.So(results[0].Device, convey.ShouldEqual, model.DeviceMobile)
				convey.So(results[1].Device, convey.ShouldEqual, model.DeviceDesktop)
				convey.So(results[2].URL, convey.ShouldEqual, "b.com")
				convey.So(results[0].PerformanceScore, convey.ShouldAlmostEqual, 87.3, 1e-9)
				convey.So(hits.Load(), convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When a device is selected and results go to sqlite", func() {
			dsn := filepath.Join(dir, "data", "runs.db")
			t.Setenv("PAGESPEED_DB_DSN", dsn)

			_, _, err := execute("run", "--urls", "a.com", "--device", "desktop")

			convey.Convey("Then one row is persisted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(hits.Load(), convey.ShouldEqual, 1)

				store, err := repository.Open(context.Background(), repository.DialectSQLite, dsn)
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = store.Close() }()

				list, err := store.List(context.Background(), repository.Filter{})
				convey.So(err, convey.ShouldBeNil)
				convey.So(list, convey.ShouldHaveLength, 1)
				convey.So(list[0].Device, convey.ShouldEqual, model.DeviceDesktop)
			})
		})

		convey.Convey("When the API key is missing", func() {
			t.Setenv("PAGESPEED_DB_DRIVER", "memory")
			unset(t, "PAGESPEED_API_KEY")

			_, _, err := execute("run", "--urls", "a.com")

			convey.Convey("Then the batch fails before any upstream call", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "API key")
				convey.So(hits.Load(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the device is unknown", func() {
			t.Setenv("PAGESPEED_DB_DRIVER", "memory")

			_, _, err := execute("run", "--urls", "a.com", "--device", "tablet")

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, model.ErrUnknownDevice), convey.ShouldBeTrue)
				convey.So(hits.Load(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When --urls is omitted", func() {
			_, _, err := execute("run")

			convey.Convey("Then cobra reports the missing flag", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "urls")
			})
		})
	})
}

func TestMigrateCommand(t *testing.T) {
	convey.Convey("Given the migrate command", t, func() {
		dir := isolate(t)

		convey.Convey("When the driver is sqlite", func() {
			dsn := filepath.Join(dir, "migrate.db")
			t.Setenv("PAGESPEED_DB_DSN", dsn)

			out, _, err := execute("migrate")

			convey.Convey("Then the schema is created and can be applied again", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "migrations applied (sqlite)")

				_, _, err := execute("migrate")
				convey.So(err, convey.ShouldBeNil)

				store, err := repository.Open(context.Background(), repository.DialectSQLite, dsn)
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = store.Close() }()
				n, err := store.Count(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(n, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the driver is memory", func() {
			t.Setenv("PAGESPEED_DB_DRIVER", "memory")

			out, _, err := execute("migrate")

			convey.Convey("Then there is nothing to do", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "nothing to migrate")
			})
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("PAGESPEED_DB_DRIVER", "mysql")

			_, _, err := execute("migrate")

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "db_driver")
			})
		})
	})
}

func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	_ = os.Unsetenv(key)
}
