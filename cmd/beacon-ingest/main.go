package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/michaelpawlus/990-beacon/internal/archive"
	"github.com/michaelpawlus/990-beacon/internal/config"
	"github.com/michaelpawlus/990-beacon/internal/events"
	"github.com/michaelpawlus/990-beacon/internal/index"
	"github.com/michaelpawlus/990-beacon/internal/model"
	"github.com/michaelpawlus/990-beacon/internal/pipeline"
)

func main() {
	var (
		mode  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "beacon-ingest",
		Short: "IRS 990 ingestion pipeline",
		Long:  "Downloads IRS 990 e-file indices and batch archives, parses filings, and loads them into the beacon database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != pipeline.ModeHistorical && mode != pipeline.ModeIncremental {
				return fmt.Errorf("invalid mode %q: must be %q or %q", mode, pipeline.ModeHistorical, pipeline.ModeIncremental)
			}
			return run(cmd.Context(), mode, limit)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", pipeline.ModeHistorical, "ingestion mode: historical or incremental")
	cmd.Flags().IntVar(&limit, "limit", 0, "max number of filings to process (0 = mode default)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Fatal("ingestion failed")
	}
}

func run(ctx context.Context, mode string, limit int) error {
	// .env is a local-dev convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("service", "beacon-ingest")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info("connected to database")

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		return err
	}

	emitter := events.NewEmitter(cfg, log)
	defer emitter.Close()

	p := pipeline.New(
		cfg,
		db,
		index.NewResolver(s3Client, cfg, log),
		archive.NewFetcher(s3Client, cfg, log),
		emitter,
		log,
	)
	p.Run(ctx, mode, limit)
	return nil
}

// newS3Client builds a client for the public IRS bucket. Requests go out
// unsigned; the endpoint override exists for local testing against a fake
// S3.
func newS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	opts := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  aws.AnonymousCredentials{},
		HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
		UsePathStyle: true,
		// Retry policy lives in the archive fetcher, where attempts are
		// logged and capped; stacking the SDK's retryer under it would
		// multiply the real attempt count.
		Retryer: aws.NopRetryer{},
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	} else if awsCfg.BaseEndpoint != nil {
		opts.BaseEndpoint = awsCfg.BaseEndpoint
	}
	return s3.New(opts), nil
}
