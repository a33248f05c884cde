package main

import (
	"context"
	"fmt"

	"github.com/mattn/go-tty"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func scanKeys(ctx context.Context, keyMap kmt) {
	tty, err := tty.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer tty.Close()

	for ctx.Err() == nil {
		r, err := tty.ReadRune()
		if err != nil {
			log.Fatal(err)
		}
		h, ok := keyMap[r]
		if !ok {
			continue
		}
		h.cb(ctx)
	}
}

type kmt = map[rune]struct {
	cb   func(context.Context)
	desc string
}

func newKeyMap(s *session, cancel context.CancelFunc) kmt {
	move := func(dx, dy float32) func(context.Context) {
		return func(ctx context.Context) {
			s.nudge(dx, dy)
			s.regenerate(ctx)
		}
	}
	var keyMap kmt
	keyMap = kmt{
		'h': {cb: move(-1, 0), desc: "Move click left"},
		'l': {cb: move(1, 0), desc: "Move click right"},
		'k': {cb: move(0, -1), desc: "Move click up"},
		'j': {cb: move(0, 1), desc: "Move click down"},
		'H': {cb: move(-10, 0), desc: "Move click left, far"},
		'L': {cb: move(10, 0), desc: "Move click right, far"},
		'K': {cb: move(0, -10), desc: "Move click up, far"},
		'J': {cb: move(0, 10), desc: "Move click down, far"},
		13: { // enter
			cb:   func(ctx context.Context) { s.regenerate(ctx) },
			desc: "Regenerate mask",
		},
		's': {
			cb: func(ctx context.Context) {
				if err := s.save(); err != nil {
					log.WithError(err).Warn("save")
				}
			},
			desc: "Save mask",
		},
		'f': {
			cb: func(c context.Context) {
				fmt.Println(s.worker.State())
			},
			desc: "Get worker state",
		},
		'q': {
			cb:   func(c context.Context) { cancel() },
			desc: "Quit",
		},
		'?': {
			desc: "Help",
			cb: func(c context.Context) {
				keys := maps.Keys(keyMap)
				slices.Sort(keys)
				for _, k := range keys {
					name := string(k)
					if k == 13 {
						name = "enter"
					}
					fmt.Printf("%s\t%s\n", name, keyMap[k].desc)
				}
			},
		},
	}
	return keyMap
}
