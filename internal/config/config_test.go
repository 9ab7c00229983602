package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/trophy/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.DBDriver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.RequestTimeout, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting each", t, func() {
		ctx := context.Background()
		cases := map[string]func(*config.Config){
			"addr must not be empty":        func(c *config.Config) { c.Addr = " " },
			"queue_size":                    func(c *config.Config) { c.QueueSize = 0 },
			"worker_count":                  func(c *config.Config) { c.WorkerCount = -1 },
			"dedupe_size":                   func(c *config.Config) { c.DedupeSize = -5 },
			"max_leaderboard_limit":         func(c *config.Config) { c.MaxLeaderboardLimit = 0 },
			"score_concurrency":             func(c *config.Config) { c.ScoreConcurrency = 0 },
			"snapshot_interval":             func(c *config.Config) { c.SnapshotInterval = 0 },
			"request_timeout":               func(c *config.Config) { c.RequestTimeout = -time.Second },
			"unknown log_level":             func(c *config.Config) { c.LogLevel = "chatty" },
			"unknown log_format":            func(c *config.Config) { c.LogFormat = "xml" },
			"unknown store":                 func(c *config.Config) { c.Store = "etcd" },
			"redis_addr is required":        func(c *config.Config) { c.Store = config.StoreRedis; c.RedisAddr = "" },
			"unknown db_driver":             func(c *config.Config) { c.DBDriver = "oracle" },
			"db_dsn must not be empty":      func(c *config.Config) { c.DBDSN = "" },
			"redis_db must not be negative": func(c *config.Config) { c.Store = config.StoreRedis; c.RedisDB = -1 },
		}

		for want, mutate := range cases {
			cfg := config.New(ctx)
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, want)
		}
	})

	convey.Convey("Given a redis-backed config", t, func() {
		cfg := config.New(context.Background())
		cfg.Store = config.StoreRedis

		convey.Convey("Then the default redis address is accepted", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
