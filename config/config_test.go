package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("LoadFile", func() {
		Context("with a valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				path := writeConfig(`
server:
  address: ":9090"
  environment: "staging"

logging:
  level: "debug"

database:
  url: "postgres://app:secret@db:5432/shortener?sslmode=disable"
  max_conns: 20

redis:
  addr: "cache:6379"
  db: 2

cache:
  mapping_ttl: "30m"
  degraded_ttl: "12h"

breakers:
  database:
    failure_threshold: 3
    timeout: "10s"
  cache:
    health_check_interval: "0"

reconciler:
  enabled: false
  batch_size: 50
`)
				var err error
				cfg, err = config.LoadFile(path)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should read the file values", func() {
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvStaging))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
				Expect(cfg.Database.URL).To(Equal("postgres://app:secret@db:5432/shortener?sslmode=disable"))
				Expect(cfg.Database.MaxConns).To(Equal(int32(20)))
				Expect(cfg.Redis.Addr).To(Equal("cache:6379"))
				Expect(cfg.Redis.DB).To(Equal(2))
				Expect(cfg.Reconciler.Enabled).To(BeFalse())
				Expect(cfg.Reconciler.BatchSize).To(Equal(50))
			})

			It("should keep defaults for keys the file leaves out", func() {
				Expect(cfg.Breakers.Database.FailureThreshold).To(Equal(3))
				Expect(cfg.Breakers.Database.SuccessThreshold).To(Equal(2))
				Expect(cfg.Breakers.Cache.FailureThreshold).To(Equal(5))
				Expect(cfg.Reconciler.Interval).To(Equal("30s"))
				Expect(cfg.ShortID.Length).To(Equal(7))
			})

			It("should parse durations", func() {
				Expect(config.Duration(cfg.Cache.MappingTTL)).To(Equal(30 * time.Minute))
				Expect(config.Duration(cfg.Breakers.Database.Timeout)).To(Equal(10 * time.Second))
				Expect(config.Duration(cfg.Breakers.Cache.HealthCheckInterval)).To(BeZero())
			})
		})

		It("should let the environment override the file", func() {
			path := writeConfig(`
redis:
  addr: "cache:6379"
`)
			setenv("REDIS_ADDR", "redis.internal:6380")
			setenv("RECONCILER_ENABLED", "false")
			setenv("BREAKERS_CACHE_TIMEOUT", "5s")

			cfg, err := config.LoadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Redis.Addr).To(Equal("redis.internal:6380"))
			Expect(cfg.Reconciler.Enabled).To(BeFalse())
			Expect(cfg.Breakers.Cache.Timeout).To(Equal("5s"))
		})

		DescribeTable("should reject invalid settings",
			func(content string) {
				_, err := config.LoadFile(writeConfig(content))
				Expect(err).To(HaveOccurred())
			},
			Entry("unknown environment", "server:\n  environment: \"qa\"\n"),
			Entry("bad address", "server:\n  address: \"nope\"\n"),
			Entry("unknown log level", "logging:\n  level: \"trace\"\n"),
			Entry("non postgres url", "database:\n  url: \"mysql://db:3306/x\"\n"),
			Entry("min above max conns", "database:\n  max_conns: 2\n  min_conns: 5\n"),
			Entry("redis db out of range", "redis:\n  db: 16\n"),
			Entry("degraded ttl not longer than mapping ttl", "cache:\n  mapping_ttl: \"2h\"\n  degraded_ttl: \"1h\"\n"),
			Entry("zero failure threshold", "breakers:\n  database:\n    failure_threshold: 0\n"),
			Entry("bad breaker timeout", "breakers:\n  cache:\n    timeout: \"soon\"\n"),
			Entry("negative retries", "reconciler:\n  max_retries: -1\n"),
			Entry("zero batch size", "reconciler:\n  batch_size: 0\n"),
			Entry("short id too short", "short_id:\n  length: 2\n"),
		)

		It("should fail for a missing explicit file", func() {
			_, err := config.LoadFile(filepath.Join(tempDir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Load", func() {
		It("should use defaults when no config file exists", func() {
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tempDir)).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Address).To(Equal(":8080"))
			Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
			Expect(cfg.Reconciler.Enabled).To(BeTrue())
			Expect(cfg.Cache.DegradedTTL).To(Equal("24h"))
		})
	})
})
