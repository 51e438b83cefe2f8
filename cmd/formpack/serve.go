package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/application"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/formpack/transport"
	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(app *application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a receiver that echoes the reconstructed graph as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app.Config(), app.Logger("server"))
		},
	}
	cmd.Flags().String("endpoint", "", "listen address, e.g. :8080")
	cmd.Flags().String("path", "", "URL path of the receiver")
	cmd.Flags().Int64("max-body-size", 0, "maximum request body size in bytes, 0 for unlimited")
	cmd.Flags().String("upload-dir", "", "directory for staged files")
	cmd.Flags().String("hash", "", "digest of staged files (md5, sha1, sha256, blake3)")
	cmd.Flags().Bool("keep-extensions", false, "keep file extensions of staged files")
	cmd.Flags().Int64("max-file-size", 0, "maximum total size of files in bytes")
	cmd.Flags().Int64("max-json-size", 0, "maximum total size of fields in bytes")
	return cmd
}

// echoResult 为普通表单返回字段与文件，否则返回还原后的值图。
func echoResult(_ context.Context, res *formpack.Result) (any, error) {
	if res.IsPlainForm() {
		return res.Form, nil
	}
	return res.Data, nil
}

func newServeMux(cfg *application.Config, logger *log.MLogger) (*http.ServeMux, *transport.Handler, error) {
	opts := append(cfg.Unpack.Options(), formpack.WithLogger(logger))
	handler, err := transport.NewHandler(echoResult,
		transport.WithUnpackOptions(opts...),
		transport.WithMaxBodySize(cfg.Server.MaxBodySize),
	)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, handler)
	if cfg.Server.MetricsPath != "" && cfg.Server.MetricsPath != cfg.Server.Path {
		mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	return mux, handler, nil
}

func serve(ctx context.Context, cfg *application.Config, logger *log.MLogger) error {
	mux, handler, err := newServeMux(cfg, logger)
	if err != nil {
		return err
	}
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("formpack receiver listening",
			zap.String("endpoint", cfg.Server.Endpoint),
			zap.String("path", cfg.Server.Path),
			zap.String("uploadDir", cfg.Unpack.UploadDir))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down formpack receiver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
