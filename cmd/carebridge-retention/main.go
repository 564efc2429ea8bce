package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/database"
	"github.com/platinummonkey/carebridge/pkg/observability"
)

var (
	dbURL     = flag.String("db-url", getEnv("CAREBRIDGE_DATABASE_URL", "postgres://localhost/carebridge?sslmode=disable"), "PostgreSQL connection URL")
	schedule  = flag.String("schedule", getEnv("CAREBRIDGE_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"), "Cron schedule for the retention sweep (default: 03:00 daily)")
	days      = flag.Int("days", getEnvInt("CAREBRIDGE_AUDIT_RETENTION_DAYS", 365), "Delete audit events older than this many days")
	bucket    = flag.String("archive-bucket", getEnv("CAREBRIDGE_AUDIT_ARCHIVE_BUCKET", ""), "S3 bucket to archive expired events to before deletion (optional)")
	prefix    = flag.String("archive-prefix", getEnv("CAREBRIDGE_AUDIT_ARCHIVE_PREFIX", "audit"), "Key prefix for archived batches")
	region    = flag.String("s3-region", getEnv("CAREBRIDGE_S3_REGION", "us-east-1"), "S3 region")
	endpoint  = flag.String("s3-endpoint", getEnv("CAREBRIDGE_S3_ENDPOINT", ""), "Custom S3 endpoint (MinIO, LocalStack)")
	pathStyle = flag.Bool("s3-path-style", getEnv("CAREBRIDGE_S3_USE_PATH_STYLE", "") == "true", "Use path-style S3 addressing")
	runOnce   = flag.Bool("run-once", false, "Run one sweep and exit")
	logLevel  = flag.String("log-level", getEnv("CAREBRIDGE_LOG_LEVEL", "info"), "debug|info|warn|error")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLevel(*logLevel), os.Stdout).Component("audit-retention")

	db, err := database.Open(database.Config{URL: *dbURL})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := audit.NewDBStore(db)
	if err := store.EnsureTable(context.Background()); err != nil {
		log.Fatalf("Failed to prepare audit table: %v", err)
	}

	opts := []audit.RetentionOption{audit.WithRetentionObservability(logger, nil)}
	if *bucket != "" {
		archiver, err := audit.NewS3Archiver(context.Background(), audit.S3Config{
			Bucket:       *bucket,
			Prefix:       *prefix,
			Region:       *region,
			Endpoint:     *endpoint,
			AccessKey:    os.Getenv("CAREBRIDGE_S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("CAREBRIDGE_S3_SECRET_KEY"),
			UsePathStyle: *pathStyle,
		})
		if err != nil {
			log.Fatalf("Failed to configure archive: %v", err)
		}
		opts = append(opts, audit.WithArchiver(archiver))
	}

	// The sweep's own summary event goes straight to the table
	retention := audit.NewRetention(store, audit.SyncRecorder{Sink: store}, opts...)

	if *runOnce {
		n, err := retention.Sweep(context.Background(), *days)
		if err != nil {
			log.Fatalf("Retention sweep failed: %v", err)
		}
		log.Printf("Retention sweep completed, %d events removed", n)
		return
	}

	c := cron.New()
	if _, err := retention.Schedule(c, *schedule, *days); err != nil {
		log.Fatalf("Failed to schedule retention sweep: %v", err)
	}

	c.Start()
	log.Println("CareBridge audit retention started")
	log.Printf("Schedule: %s, horizon: %d days", *schedule, *days)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Retention stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}
