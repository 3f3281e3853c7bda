package mirror

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

// Presenter lets a user pick mirrors from the ranked candidates.
type Presenter interface {
	Present(candidates []pool.MirrorRecord) ([]pool.MirrorRecord, error)
}

// ConsolePresenter prints a numbered list and reads the selection as a
// comma or space separated list of numbers.  An empty answer selects
// every candidate.
type ConsolePresenter struct {
	In  io.Reader
	Out io.Writer
}

// Present implements Presenter.  The selection keeps the order in which
// the numbers were entered.
func (c *ConsolePresenter) Present(candidates []pool.MirrorRecord) ([]pool.MirrorRecord, error) {
	if len(candidates) == 0 {
		return nil, ErrNoSelection
	}

	fmt.Fprintln(c.Out, "Available mirrors:")
	for i, r := range candidates {
		proto := ""
		if len(r.Protocols) > 0 {
			proto = r.Protocols[0]
		}
		fmt.Fprintf(c.Out, "%3d) %-15s %6.3f  %s\n", i+1, r.Country, r.RespTime, r.ServerURL(proto))
	}
	fmt.Fprint(c.Out, "Select mirrors (e.g. 1,3,4; empty for all): ")

	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read selection")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return candidates, nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	seen := make(map[int]bool, len(fields))
	var selected []pool.MirrorRecord
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(candidates) {
			return nil, errors.Newf("invalid selection %q (use 1-%d)", f, len(candidates))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, candidates[n-1])
	}
	return selected, nil
}
