// gpm-proxy exposes the Horizon client as a small HTTP API for
// dashboard tools: plant metadata endpoints plus a parallel /data
// endpoint over DataList/v2.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/plantsight/gpm-horizon-client/pkg/auth"
	"github.com/plantsight/gpm-horizon-client/pkg/cache"
	"github.com/plantsight/gpm-horizon-client/pkg/datalist"
	"github.com/plantsight/gpm-horizon-client/pkg/logging"
	"github.com/plantsight/gpm-horizon-client/pkg/plants"
	"github.com/plantsight/gpm-horizon-client/pkg/record"
	"github.com/plantsight/gpm-horizon-client/pkg/transport"
)

type appConfig struct {
	ServerName string
	ConfigPath string
	Port       string
	RedisURL   string
	RecordDir  string

	InfluxURL      string
	InfluxToken    string
	InfluxDatabase string

	BatchSize  int
	MaxWorkers int

	LogLevel  string
	LogPretty bool
}

func loadConfig() appConfig {
	// A local .env is optional
	_ = godotenv.Load()

	return appConfig{
		ServerName:     getEnv("GPM_PLUS_SERVER_NAME", "siliconranch"),
		ConfigPath:     os.Getenv("GPM_CONFIG_PATH"),
		Port:           getEnv("PORT", "8080"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RecordDir:      os.Getenv("RECORD_DIR"),
		InfluxURL:      os.Getenv("INFLUXDB_URL"),
		InfluxToken:    os.Getenv("INFLUXDB_TOKEN"),
		InfluxDatabase: os.Getenv("INFLUXDB_DATABASE"),
		BatchSize:      getEnvInt("GPM_BATCH_SIZE", 50),
		MaxWorkers:     getEnvInt("GPM_MAX_WORKERS", 8),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogPretty:      os.Getenv("LOG_PRETTY") == "true",
	}
}

type server struct {
	transport  *transport.Client
	plants     *plants.Service
	recorder   record.Recorder
	batchSize  int
	maxWorkers int
	logger     zerolog.Logger
}

func main() {
	cfg := loadConfig()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("gpm-proxy")
	logger.Info().Str("server", cfg.ServerName).Msg("Starting GPM Horizon proxy")

	// Secrets file first, environment as fallback
	sources := auth.Chain{}
	if cfg.ConfigPath != "" {
		sources = append(sources, auth.NewDotenvSource(cfg.ConfigPath))
	}
	sources = append(sources, auth.NewEnvSource())

	creds, err := sources.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load credentials")
	}

	tokens, err := auth.NewTokenSource(auth.TokenConfig{
		TokenURL:    transport.BaseURLForServer(cfg.ServerName) + "/Account/Token",
		Credentials: creds,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token source")
	}

	tp, err := transport.New(transport.DefaultConfig(tokens, cfg.ServerName))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transport")
	}

	var cacheManager *cache.Manager
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		cacheManager = cache.NewManager(redisClient)
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Metadata cache enabled")
	}

	plantsSvc, err := plants.NewService(tp, plants.Config{Cache: cacheManager})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create plants service")
	}

	recorder, err := buildRecorder(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create recorder")
	}
	if recorder != nil {
		defer recorder.Close()
	}

	s := &server{
		transport:  tp,
		plants:     plantsSvc,
		recorder:   recorder,
		batchSize:  cfg.BatchSize,
		maxWorkers: cfg.MaxWorkers,
		logger:     logger,
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.setupRouter(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}
}

func buildRecorder(cfg appConfig, logger zerolog.Logger) (record.Recorder, error) {
	switch {
	case cfg.RecordDir != "":
		logger.Info().Str("dir", cfg.RecordDir).Msg("Mirroring rows to CSV")
		return record.NewCSVRecorder(cfg.RecordDir), nil
	case cfg.InfluxURL != "":
		client, err := influxdb3.New(influxdb3.ClientConfig{
			Host:     cfg.InfluxURL,
			Token:    cfg.InfluxToken,
			Database: cfg.InfluxDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("create influxdb client: %w", err)
		}
		logger.Info().Str("host", cfg.InfluxURL).Msg("Mirroring rows to InfluxDB")
		return record.NewInfluxRecorder(client)
	default:
		return nil, nil
	}
}

func (s *server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/plants", s.handlePlants)
	r.GET("/elements", s.handleElements)
	r.GET("/tags", s.handleTags)
	r.GET("/data", s.handleData)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *server) handlePlants(c *gin.Context) {
	records, err := s.plants.Plants(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *server) handleElements(c *gin.Context) {
	plantID, err := strconv.Atoi(c.Query("plant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "plant_id must be an integer"})
		return
	}

	raw, err := s.plants.Elements(c.Request.Context(), plantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *server) handleTags(c *gin.Context) {
	plantID, err := strconv.Atoi(c.Query("plant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "plant_id must be an integer"})
		return
	}
	elementID, err := strconv.Atoi(c.Query("element_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "element_id must be an integer"})
		return
	}

	raw, err := s.plants.Datasources(c.Request.Context(), plantID, elementID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// handleData runs a parallel DataList fetch across the requested
// datasource ids and returns the normalized rows.
func (s *server) handleData(c *gin.Context) {
	keys := parseKeys(c.Query("data_source_ids"))
	if len(keys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "data_source_ids is required"})
		return
	}

	start := c.Query("start")
	end := c.Query("end")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "start and end are required"})
		return
	}

	aggregationType := 1
	if v := c.Query("aggregationType"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "aggregationType must be an integer"})
			return
		}
		aggregationType = parsed
	}

	cfg := datalist.DefaultConfig()
	cfg.BatchSize = s.batchSize
	cfg.MaxWorkers = s.maxWorkers
	cfg.AggregationType = aggregationType
	cfg.Grouping = c.DefaultQuery("grouping", "raw")
	cfg.TZLocal = !strings.EqualFold(c.DefaultQuery("tz", "UTC"), "UTC")

	engine, err := datalist.New(s.transport, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	table := engine.FetchTable(c.Request.Context(), keys, datalist.TimeRange{Start: start, End: end})

	if s.recorder != nil && table.Len() > 0 {
		if err := s.recorder.RecordBatch(c.Request.Context(), table.Rows); err != nil {
			// Mirroring is best effort; the response still goes out
			s.logger.Warn().Err(err).Int("rows", table.Len()).Msg("Row mirroring failed")
		} else if err := s.recorder.Flush(c.Request.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Row mirror flush failed")
		}
	}

	c.JSON(http.StatusOK, table)
}

func parseKeys(raw string) []datalist.Key {
	var keys []datalist.Key
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, datalist.Key(part))
		}
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
