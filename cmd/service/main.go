package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/bsimic/blogbox/internal"
	"github.com/bsimic/blogbox/internal/config"
	"github.com/bsimic/blogbox/internal/imagestore"
	"github.com/bsimic/blogbox/internal/logging"
	"github.com/bsimic/blogbox/pkg"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    false,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "blogbox-service",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	postsSecret := os.Getenv("BLOGBOX_POSTS_SECRET")
	if postsSecret == "" {
		log.Errorf("posts secret not set, mutating endpoints will reject everything. use BLOGBOX_POSTS_SECRET env var to set it (plaintext or bcrypt hash)")
	}

	redisPassword := os.Getenv("BLOGBOX_REDIS_PASS")
	if redisPassword == "" {
		log.Errorf("redis password not set. use BLOGBOX_REDIS_PASS")
	}

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	// thumbnail uploads get staged here before going to the object store
	stagingDirExists, err := pkg.PathExists(cfg.ThumbnailStagingDir, true)
	if err != nil {
		log.Fatalf("check thumbnail staging dir: %s", err)
	}
	if !stagingDirExists {
		if err := os.MkdirAll(cfg.ThumbnailStagingDir, 0o755); err != nil {
			log.Fatalf("create thumbnail staging dir: %s", err)
		}
	}
	log.Printf("thumbnail staging dir: %s", cfg.ThumbnailStagingDir)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ThumbnailsRegion))
	if err != nil {
		log.Fatalf("load aws config: %s", err)
	}
	imageStore := imagestore.NewS3Store(imagestore.NewS3StoreParams{
		Client:     s3.NewFromConfig(awsCfg),
		Bucket:     cfg.ThumbnailsBucket,
		KeyPrefix:  cfg.ThumbnailsKeyPrefix,
		PublicBase: cfg.ThumbnailsPublicBase,
	})

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			PostsSecret:             postsSecret,
			RedisPassword:           redisPassword,
			VersionInfo:             versionInfo,
			ImageStore:              imageStore,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	if err := server.GracefulShutdown(); err != nil {
		log.Errorf("graceful shutdown: %s", err)
	}
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return pkg.BytesToString(stdout), nil
}
