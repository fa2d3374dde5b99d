// arch-mgr moves verified objects from an ingest bucket to an archive
// bucket and records an operational trail of every move in CloudWatch Logs.
//
// Commands:
//
//	arch-mgr transition <key>     verify and move one object
//	arch-mgr transition-all       move every ingest object with a recorded md5sum
//	arch-mgr checksum <key>       print the MD5 of an object
//	arch-mgr serve                expose the commands over HTTP
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/your-org/arch-mgr/internal/archive"
	"github.com/your-org/arch-mgr/pkg/cloudlog"
	"github.com/your-org/arch-mgr/pkg/config"
	"github.com/your-org/arch-mgr/pkg/kafka"
	"github.com/your-org/arch-mgr/pkg/logger"
	"github.com/your-org/arch-mgr/pkg/storage/objectstore"
	"github.com/your-org/arch-mgr/pkg/tracing"
)

var errSomeFailed = errors.New("one or more objects failed to transition")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	settings     archive.Settings
	expectedMD5  string
	bucket       string
	logGroup     string
	errorLogging bool
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var opts options
	var remove bool
	flagSet := pflag.NewFlagSet("arch-mgr", pflag.ContinueOnError)
	flagSet.StringVar(&opts.settings.IngestBucket, "ingest-bucket", "", "bucket objects are read from")
	flagSet.StringVar(&opts.settings.ArchiveBucket, "archive-bucket", "", "bucket objects are copied to")
	flagSet.StringVar(&opts.settings.StorageClass, "archive-storage-class", "", "storage class of archived copies")
	flagSet.BoolVar(&remove, "remove-from-ingest-bucket", false, "delete the ingest copy after a verified copy")
	flagSet.StringVar(&opts.expectedMD5, "expected-md5-sum", "", "expected digest (default: the object's md5sum metadata)")
	flagSet.StringVar(&opts.bucket, "bucket", "", "bucket for the checksum command (default: ingest bucket)")
	flagSet.StringVar(&opts.logGroup, "log-group", "", "CloudWatch log group for the operational trail")
	flagSet.BoolVar(&opts.errorLogging, "enable-error-logging", false, "include error detail in the closing log message")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.Changed("remove-from-ingest-bucket") {
		opts.settings.RemoveFromIngest = archive.Bool(remove)
	}
	if opts.logGroup != "" {
		cfg.CloudLog.Group = opts.logGroup
	}
	if flagSet.Changed("enable-error-logging") {
		cfg.CloudLog.EnableErrorLogging = opts.errorLogging
	}

	positional := flagSet.Args()
	if len(positional) == 0 {
		printUsage(flagSet)
		return errors.New("missing command")
	}
	command, rest := positional[0], positional[1:]
	if err := checkArity(command, rest); err != nil {
		return err
	}

	logr, err := logger.New(cfg.App.Name, cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	store, err := objectstore.New(objectstore.Config{
		Provider:       cfg.Storage.Provider,
		Endpoint:       cfg.Storage.Endpoint,
		Region:         cfg.Storage.Region,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		UseSSL:         cfg.Storage.UseSSL,
		PageSize:       cfg.Archive.ListPageSize,
		ProgressStride: cfg.Archive.CopyProgressStride,
	})
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	var publisher archive.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.TransitionTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
			Source:       cfg.App.Name,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer producer.Close(context.Background()) //nolint:errcheck
		publisher = producer
	}

	var dest cloudlog.Destination = cloudlog.Discard{}
	if cfg.CloudLog.Group != "" {
		cw, err := cloudlog.NewCloudWatchForRegion(ctx, cfg.CloudLog.Region, logr)
		if err != nil {
			return fmt.Errorf("init cloudwatch logs: %w", err)
		}
		dest = cw
	} else {
		logr.Info("no log group configured; operational trail is local only")
	}

	sinkOpts := cloudlog.Options{
		Group:              cfg.CloudLog.Group,
		App:                cfg.App.Name,
		MinimumPutInterval: cfg.CloudLog.MinimumPutInterval,
		EnableErrorLogging: cfg.CloudLog.EnableErrorLogging,
		Logger:             logr,
	}
	return cloudlog.Run(ctx, dest, sinkOpts, func(ctx context.Context, sink *cloudlog.Sink) error {
		runLog := logger.WithTrail(logr, sink.Group(), sink.Stream())
		service := archive.NewService(archive.Params{
			Store:     store,
			Trail:     sink,
			Publisher: publisher,
			Logger:    runLog,
			ChunkSize: cfg.Archive.ChunkSizeBytes,
			Defaults: archive.Settings{
				IngestBucket:     cfg.Archive.IngestBucket,
				ArchiveBucket:    cfg.Archive.ArchiveBucket,
				StorageClass:     cfg.Archive.ArchiveStorageClass,
				RemoveFromIngest: archive.Bool(cfg.Archive.RemoveFromIngestBucket),
			},
		})
		defer service.Close(context.Background()) //nolint:errcheck

		switch command {
		case "transition":
			return runTransition(ctx, service, rest[0], opts)
		case "transition-all":
			return runTransitionAll(ctx, service, opts)
		case "checksum":
			return runChecksum(ctx, service, rest[0], opts)
		default:
			return runServer(ctx, service, cfg.HTTP, runLog)
		}
	})
}

func checkArity(command string, rest []string) error {
	want := map[string]int{"transition": 1, "checksum": 1, "transition-all": 0, "serve": 0}
	n, ok := want[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if len(rest) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", command, n, len(rest))
	}
	return nil
}

func runTransition(ctx context.Context, service *archive.Service, key string, opts options) error {
	rec, err := service.Transition(ctx, archive.Request{
		Key:            key,
		ExpectedDigest: opts.expectedMD5,
		Settings:       opts.settings,
	})
	printJSON(map[string]any{
		"key":          rec.Key,
		"state":        rec.State,
		"md5sum":       rec.ComputedDigest,
		"bytes_copied": rec.BytesCopied,
		"removed":      rec.Removed,
	})
	return err
}

func runTransitionAll(ctx context.Context, service *archive.Service, opts options) error {
	summary, err := service.TransitionAll(ctx, opts.settings)
	if err != nil {
		return err
	}
	failed := map[string]string{}
	for _, f := range summary.Failed {
		failed[f.Key] = f.Err.Error()
	}
	printJSON(map[string]any{
		"transitioned": summary.Transitioned,
		"skipped":      summary.Skipped,
		"failed":       failed,
	})
	if summary.HasFailures() {
		return fmt.Errorf("%w: %d of %d", errSomeFailed, len(summary.Failed), summary.Total())
	}
	return nil
}

func runChecksum(ctx context.Context, service *archive.Service, key string, opts options) error {
	d, err := service.ComputeChecksum(ctx, opts.bucket, key)
	if err != nil {
		return err
	}
	fmt.Println(d.Hex)
	return nil
}

func runServer(ctx context.Context, service *archive.Service, cfg config.HTTPConfig, logr *zap.Logger) error {
	handler := archive.NewHTTPHandler(service, logr)
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("arch-mgr server starting", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: arch-mgr [flags] transition <key> | transition-all | checksum <key> | serve\n\nFlags:\n")
	flagSet.PrintDefaults()
}
