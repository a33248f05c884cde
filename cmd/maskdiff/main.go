package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/WIZARDISHUNGRY/samask/internal/logger"
	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/maskdiff"
	"github.com/sirupsen/logrus"
)

var (
	flagDim       = flag.Int("dim", maskdiff.DefaultDim, "perception hash size, a power of 2")
	flagThreshold = flag.Int("threshold", -1, "exit 1 when the hash distance exceeds this, negative to never fail")
	flagLogLevel  = flag.String("log-level", "info", "logrus level")
)

var log = logrus.New()

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] a.png b.png\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log = logger.New(*flagLogLevel)
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	a, err := mask.ReadFile(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("read mask")
	}
	b, err := mask.ReadFile(flag.Arg(1))
	if err != nil {
		log.WithError(err).Fatal("read mask")
	}

	r, err := maskdiff.Compare(a, b, *flagDim)
	if err != nil {
		log.WithError(err).Fatal("compare")
	}
	ca, errA := maskdiff.Complexity(a)
	cb, errB := maskdiff.Complexity(b)
	if errA != nil || errB != nil {
		log.WithField("a", errA).WithField("b", errB).Warn("complexity")
	}

	fmt.Printf("distance\t%d\n", r.Distance)
	fmt.Printf("differing\t%d\n", r.Differing)
	fmt.Printf("iou\t%.4f\n", r.IoU)
	fmt.Printf("complexity\t%.4f\t%.4f\n", ca, cb)

	if *flagThreshold >= 0 && r.Distance > *flagThreshold {
		os.Exit(1)
	}
}
