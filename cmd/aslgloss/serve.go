package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aslgloss/internal/config"
	"aslgloss/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 POST /transcribe 服务：上传音频，返回 {text, asl_gloss}",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := withSignals(cmd.Context())
			defer stop()

			tr, err := config.Transcriber(ctx, a.cfg)
			if err != nil {
				return err
			}
			gin.SetMode(gin.ReleaseMode)
			svc := server.New(tr, server.Options{
				Model:          a.cfg.Serve.Model,
				MaxUploadBytes: int64(a.cfg.Serve.MaxUploadMB) << 20,
				Generation:     a.cfg.Serve.Generation,
			}, a.logger)

			ln, err := net.Listen("tcp", a.cfg.Serve.Addr)
			if err != nil {
				return err
			}
			a.terminal().Printf("[serve] 监听 %s | transcriber=%s", ln.Addr(), a.cfg.Serve.Transcriber)
			return serveUntilDone(ctx, ln, svc.Handler())
		},
	}
	fs := cmd.Flags()
	fs.String("addr", "", "监听地址，例如 0.0.0.0:5000")
	fs.String("transcriber", "", "转写客户端 openai|gemini|mock")
	a.bind(fs, "serve.addr", "addr")
	a.bind(fs, "serve.transcriber", "transcriber")
	return cmd
}

// serveUntilDone 在 ln 上提供服务，ctx 结束后优雅关闭。
func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.S().Infow("shutting down", "addr", ln.Addr().String())
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
