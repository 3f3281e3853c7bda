package mirror

import (
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
)

// Progress reports probing progress, one step per mirror.
type Progress interface {
	Increment()
	Finish()
}

type noProgress struct{}

func (noProgress) Increment() {}
func (noProgress) Finish()    {}

type barProgress struct {
	bar *pb.ProgressBar
}

func (p *barProgress) Increment() { p.bar.Increment() }

// Finish fills the bar before stopping it.  Strategies with a limit stop
// before every mirror was probed.
func (p *barProgress) Finish() {
	p.bar.SetCurrent(p.bar.Total())
	p.bar.Finish()
}

// NewProgress returns a progress bar over total mirrors written to w, or
// a silent Progress when quiet is set or total is zero.
func NewProgress(w io.Writer, total int, quiet bool) Progress {
	if quiet || total <= 0 {
		return noProgress{}
	}
	if w == nil {
		w = os.Stderr
	}
	bar := pb.New(total).SetWriter(w)
	bar.Start()
	return &barProgress{bar: bar}
}
