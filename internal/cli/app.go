package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinalkan/seglog/internal/config"
	"github.com/calvinalkan/seglog/pkg/seglog"
	"github.com/calvinalkan/seglog/pkg/segment"
)

// app carries what every command needs: the resolved config and the logger.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	env    map[string]string
}

func (a *app) commands() []*Command {
	return []*Command{
		InitCmd(a),
		ProduceCmd(a),
		ConsumeCmd(a),
		PartitionsCmd(a),
		DescribeCmd(a),
		SegmentsCmd(a),
		VerifyCmd(a),
		StressCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}
}

// openLog opens the configured data directory. The returned close function
// also stops the metrics endpoint when one was started.
func (a *app) openLog(ctx context.Context) (*seglog.Log, func() error, error) {
	var storage segment.Storage

	if a.cfg.Storage == config.StorageS3 {
		s3, err := segment.NewS3(ctx, segment.S3Config{
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			Endpoint:        a.cfg.S3.Endpoint,
			Prefix:          a.cfg.S3.Prefix,
			ForcePathStyle:  a.cfg.S3.ForcePathStyle,
			KMSKeyARN:       a.cfg.S3.KMSKeyARN,
			AccessKeyID:     a.env["AWS_ACCESS_KEY_ID"],
			SecretAccessKey: a.env["AWS_SECRET_ACCESS_KEY"],
			SessionToken:    a.env["AWS_SESSION_TOKEN"],
		})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 storage: %w", err)
		}

		storage = s3
	}

	reg := prometheus.NewRegistry()

	log, err := seglog.Open(ctx, seglog.Config{
		DataDir:       a.cfg.DataDirAbs,
		Storage:       storage,
		CacheBytes:    a.cfg.CacheBytes,
		MaxInflightIO: a.cfg.MaxInflightIO,
		Logger:        a.logger,
		Registerer:    reg,
	})
	if err != nil {
		return nil, nil, err
	}

	stop, err := a.serveMetrics(reg)
	if err != nil {
		return nil, nil, errors.Join(err, log.Close())
	}

	closeFn := func() error {
		return errors.Join(stop(), log.Close())
	}

	return log, closeFn, nil
}

// serveMetrics exposes reg on metrics_addr at /metrics. It is a no-op when
// no address is configured.
func (a *app) serveMetrics(reg *prometheus.Registry) (func() error, error) {
	if a.cfg.MetricsAddr == "" {
		return func() error { return nil }, nil
	}

	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "err", err)
		}
	}()

	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return srv.Shutdown(ctx)
	}, nil
}
