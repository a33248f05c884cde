package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/config"
	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/maskdiff"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/WIZARDISHUNGRY/samask/internal/native"
	"github.com/WIZARDISHUNGRY/samask/internal/preview"
	"github.com/WIZARDISHUNGRY/samask/internal/worker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// session is the state the key handlers work on.
type session struct {
	mutex   sync.Mutex
	masker  *masker.Masker
	worker  worker.Worker
	img     image.Image
	params  mask.Params
	click   mask.Point
	step    float32
	output  string
	last    *mask.Mask
	tracker *maskdiff.Tracker
}

func main() {
	var step float64
	flags, err := config.Parse(os.Args[0], os.Args[1:], os.Stderr, func(fs *flag.FlagSet) {
		fs.Float64Var(&step, "step", 8, "pixels moved per key press")
	})
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("flags")
	}
	log = logger.New(flags.LogLevel)
	worker.SetLogger(log)

	ctx, ctxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer ctxCancel()

	w := worker.InitWorker(flags.Worker, flags.Privsep, func() (worker.Library, error) {
		lib, err := native.Open(flags.Library, native.WithFreeSymbol(flags.FreeSymbol))
		if err != nil {
			return nil, err
		}
		return lib, nil
	})
	if _, ok := w.(*worker.Child); ok {
		if err := w.Start(ctx); err != nil {
			log.WithError(err).Fatal("worker")
		}
		return
	}

	if flags.Input == "" {
		log.Fatal("-i is required")
	}
	img, err := mask.Open(flags.Input)
	if err != nil {
		log.WithError(err).Fatal("open input")
	}
	if err := w.Start(ctx); err != nil {
		log.WithError(err).Fatal("start worker")
	}

	m, err := masker.New(w.Generator(), masker.WithMaxSide(flags.ResolveMaxSide()))
	if err != nil {
		log.WithError(err).Fatal("masker.New")
	}
	flags.ResolveSeed(time.Now())
	params, err := flags.Params(flags.Input, "")
	if err != nil {
		log.WithError(err).Fatal("params")
	}

	s := &session{
		masker:  m,
		worker:  w,
		img:     img,
		params:  params,
		click:   mask.Point{X: float32(flags.X), Y: float32(flags.Y)},
		step:    float32(step),
		output:  flags.Output,
		tracker: maskdiff.NewTracker(maskdiff.DefaultDim),
	}
	if flags.X == 0 && flags.Y == 0 {
		b := img.Bounds()
		s.click = mask.Point{X: float32(b.Dx() / 2), Y: float32(b.Dy() / 2)}
	}

	s.regenerate(ctx)
	fmt.Println("press ? for help")
	scanKeys(ctx, newKeyMap(s, ctxCancel))
}

// regenerate asks for a mask at the current click and draws it.
func (s *session) regenerate(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	start := time.Now()
	mk, err := s.masker.GenerateMaskImage(ctx, s.img, s.click, s.params)
	if err != nil {
		log.WithError(err).Warn("generate mask")
		return
	}
	s.last = mk

	click := s.click
	if b := s.img.Bounds(); b.Dx() != mk.Width {
		scale := float32(mk.Width) / float32(b.Dx())
		click = mask.Point{X: click.X * scale, Y: click.Y * scale}
	}
	if err := preview.Draw(preview.Overlay(s.img, mk, &click)); err != nil {
		log.WithError(err).Warn("preview")
	}

	line := fmt.Sprintf("click (%.0f, %.0f) %dx%d %.1f%% covered in %s",
		s.click.X, s.click.Y, mk.Width, mk.Rows, 100*mk.Coverage(), time.Since(start).Round(time.Millisecond))
	diff, ok, err := s.tracker.Next(mk)
	if err != nil {
		log.WithError(err).Warn("maskdiff")
	} else if ok {
		line += fmt.Sprintf(", changed by %d (iou %.2f)", diff.Distance, diff.IoU)
	}
	fmt.Println(line)
}

// nudge moves the click, keeping it on the image.
func (s *session) nudge(dx, dy float32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b := s.img.Bounds()
	s.click.X = clamp(s.click.X+dx*s.step, 0, float32(b.Dx()-1))
	s.click.Y = clamp(s.click.Y+dy*s.step, 0, float32(b.Dy()-1))
}

func (s *session) save() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.last == nil {
		return errors.New("no mask yet")
	}
	if err := s.last.WriteFile(s.output); err != nil {
		return err
	}
	fmt.Printf("saved %s\n", s.output)
	return nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
