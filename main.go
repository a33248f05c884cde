package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/cache"
	"github.com/WIZARDISHUNGRY/samask/internal/config"
	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/WIZARDISHUNGRY/samask/internal/native"
	"github.com/WIZARDISHUNGRY/samask/internal/preview"
	"github.com/WIZARDISHUNGRY/samask/internal/scratch"
	"github.com/WIZARDISHUNGRY/samask/internal/server"
	"github.com/WIZARDISHUNGRY/samask/internal/worker"
	"github.com/WIZARDISHUNGRY/samask/pkg/fetch"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.New()

func main() {
	flags, err := config.Parse(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("flags")
	}
	log = logger.New(flags.LogLevel)
	worker.SetLogger(log)
	fetch.SetLogger(log)
	fetch.DumpHTTP = flags.DumpHTTP

	if flags.DumpFSM {
		fmt.Println(worker.Visualize())
		return
	}

	ctx, ctxCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer func() {
		ctxCancel()
		log.Debug("main exiting")
	}()

	w := worker.InitWorker(flags.Worker, flags.Privsep, openLibrary(flags))
	if _, ok := w.(*worker.Child); ok {
		if err := w.Start(ctx); err != nil {
			log.WithError(err).Fatal("worker")
		}
		return
	}

	if err := run(ctx, ctxCancel, flags, w); err != nil {
		log.WithError(err).Error("samask")
		ctxCancel()
		os.Exit(1)
	}
}

func openLibrary(flags *config.Flags) worker.Opener {
	return func() (worker.Library, error) {
		lib, err := native.Open(flags.Library, native.WithFreeSymbol(flags.FreeSymbol))
		if err != nil {
			return nil, err
		}
		return lib, nil
	}
}

func newCache(ctx context.Context, flags *config.Flags) (cache.Cache, error) {
	if flags.Redis != "" {
		c, err := cache.NewRedis(ctx, flags.Redis, flags.CacheTTL)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if flags.CacheBytes > 0 {
		return cache.NewLRU(flags.CacheBytes, flags.CacheTTL), nil
	}
	return nil, nil
}

func run(ctx context.Context, stop func(), flags *config.Flags, w worker.Worker) error {
	if !flags.Serve && flags.Input == "" {
		return errors.New("-i is required unless -serve is set")
	}

	if err := w.Start(ctx); err != nil {
		return errors.Wrap(err, "start worker")
	}

	seed := flags.ResolveSeed(time.Now())
	log.Infof("seed = %d", seed)

	opts := []masker.Option{masker.WithMaxSide(flags.ResolveMaxSide())}
	c, err := newCache(ctx, flags)
	if err != nil {
		return err
	}
	if closer, ok := c.(io.Closer); ok {
		defer closer.Close()
	}
	cacheName := "none"
	if c != nil {
		opts = append(opts, masker.WithCache(c))
		cacheName = c.String()
	}
	m, err := masker.New(w.Generator(), opts...)
	if err != nil {
		return err
	}

	mk, cleanup, err := scratch.NewFactory("samask-")
	if err != nil {
		return errors.Wrap(err, "scratch dir")
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.WithError(err).Warn("scratch cleanup")
		}
	}()

	if flags.Serve {
		return serve(ctx, stop, flags, w, m, mk, cacheName)
	}
	return once(ctx, flags, m, mk)
}

func serve(ctx context.Context, stop func(), flags *config.Flags, w worker.Worker, m *masker.Masker, mk scratch.Factory, cacheName string) error {
	params, err := flags.Params("", "")
	if err != nil {
		return err
	}
	srv, err := server.New(m, params, mk,
		server.WithLogger(log),
		server.WithMaxUpload(flags.MaxUpload),
		server.WithFetchClient(fetch.NewPublicClient(fetch.DefaultMaxBytes, fetch.DefaultTTL)),
		server.WithState(w.State),
		server.WithCacheName(cacheName),
		server.WithStop(stop),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, flags.Listen)
	})
	return g.Wait()
}

func once(ctx context.Context, flags *config.Flags, m *masker.Masker, mk scratch.Factory) error {
	input := flags.Input
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		path, cleanup, err := mk("")
		if err != nil {
			return err
		}
		defer cleanup()
		client := fetch.NewClient(fetch.DefaultMaxBytes, fetch.DefaultTTL)
		if err := fetch.ToFile(ctx, client, input, path, fetch.DefaultLimit); err != nil {
			return err
		}
		input = path
	}

	params, err := flags.Params(input, flags.Output)
	if err != nil {
		return err
	}
	click := mask.Point{X: float32(flags.X), Y: float32(flags.Y)}
	result, err := m.GenerateMask(ctx, input, click, params)
	if errors.Is(err, mask.ErrEmptyResult) {
		return errors.Wrap(err, "failed to generate mask")
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: %dx%d mask, %.1f%% covered\n", flags.Output, result.Width, result.Rows, 100*result.Coverage())

	if flags.Ansi {
		img, err := mask.Open(input)
		if err != nil {
			return err
		}
		if err := preview.Draw(preview.Overlay(img, result, nil)); err != nil {
			log.WithError(err).Warn("preview")
		}
	}
	return nil
}
