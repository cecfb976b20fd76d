package rpmkit

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"rpmkit/internal/transaction"
)

// progressNotifier renders transaction events. With hash set every
// install gets a progress bar; otherwise only start and stop lines are
// printed, and only in verbose mode.
type progressNotifier struct {
	out  io.Writer
	hash bool
	bar  *progressbar.ProgressBar
}

func newProgressNotifier(out io.Writer, hash bool) *progressNotifier {
	return &progressNotifier{out: out, hash: hash}
}

func (p *progressNotifier) newBar(ev transaction.Event) *progressbar.ProgressBar {
	total := ev.Total
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(fmt.Sprintf("%-28s", ev.Package)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
	)
}

// Notify is the transaction callback.
func (p *progressNotifier) Notify(ev transaction.Event) {
	switch ev.Kind {
	case transaction.EventInstallStart:
		if p.hash {
			p.bar = p.newBar(ev)
		} else if Verbose {
			fmt.Fprintf(p.out, "Installing %s\n", ev.Package)
		}
	case transaction.EventInstallProgress:
		if p.bar != nil {
			p.bar.Set64(ev.Amount)
		}
	case transaction.EventInstallStop:
		if p.bar != nil {
			p.bar.Finish()
			p.bar = nil
		}
	case transaction.EventEraseStart:
		if Verbose {
			fmt.Fprintf(p.out, "Removing %s\n", ev.Package)
		}
	case transaction.EventEraseStop:
	}
}
