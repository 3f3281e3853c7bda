package mirror

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

const repoArchSuffix = "/$repo/$arch"

// Materializer stores the final mirror list.
type Materializer interface {
	Write(records []pool.MirrorRecord) error
}

// MirrorlistWriter writes a pacman mirrorlist file.
type MirrorlistWriter struct {
	Path   string
	Branch string

	// Custom marks lists built from a user selection rather than the
	// default ranking.
	Custom bool

	now func() time.Time
}

// NewMirrorlistWriter creates a MirrorlistWriter for path.  branch is the
// branch with its architecture prefix.
func NewMirrorlistWriter(path, branch string) *MirrorlistWriter {
	return &MirrorlistWriter{
		Path:   path,
		Branch: branch,
		now:    time.Now,
	}
}

// ServerLine returns the Server value of record for branch.  The first
// protocol of the record is used.
func ServerLine(record pool.MirrorRecord, branch string) string {
	return record.ServerURL(record.Protocols[0]) + branch + repoArchSuffix
}

// Render writes the mirrorlist for records to w and returns the number of
// servers written.  Unreachable records and records without protocols are
// skipped.
func (m *MirrorlistWriter) Render(w io.Writer, records []pool.MirrorRecord) (int, error) {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "##")
	if m.Custom {
		fmt.Fprintln(bw, "## Manjaro Linux Custom mirrorlist")
	} else {
		fmt.Fprintln(bw, "## Manjaro Linux Default mirrorlist")
	}
	fmt.Fprintf(bw, "## Generated on %s\n", m.now().Format("2006-01-02 15:04"))
	fmt.Fprintln(bw, "##")
	fmt.Fprintln(bw, "## Use 'mirrorrank rank' to rebuild this list")
	fmt.Fprintln(bw, "##")
	fmt.Fprintln(bw)

	written := 0
	for _, r := range records {
		if !r.Reachable() || len(r.Protocols) == 0 {
			continue
		}
		fmt.Fprintf(bw, "## Country : %s\n", r.Country)
		fmt.Fprintf(bw, "Server = %s\n\n", ServerLine(r, m.Branch))
		written++
	}
	return written, bw.Flush()
}

// Write implements Materializer.  The file is replaced atomically.  An
// empty list is ErrNoSelection and leaves the file untouched.
func (m *MirrorlistWriter) Write(records []pool.MirrorRecord) error {
	var buf bytes.Buffer
	n, err := m.Render(&buf, records)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSelection
	}
	if err := writeFileAtomic(m.Path, buf.Bytes()); err != nil {
		return errors.Wrapf(err, "write mirrorlist %s", m.Path)
	}
	slog.Info("mirrorlist written", "path", m.Path, "servers", n)
	return nil
}

// Mirrorlist is the content of an existing mirrorlist file.
type Mirrorlist struct {
	// Branch is the branch found in the server lines, with its
	// architecture prefix.
	Branch string

	// Servers are the server base URLs, with scheme, in file order.
	Servers []string
}

// ReadMirrorlist parses the Server lines of a mirrorlist file.
func ReadMirrorlist(path string) (*Mirrorlist, error) {
	f, err := os.Open(path) // #nosec G304 - mirrorlist path comes from the configuration
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close mirrorlist", "path", path, "error", err)
		}
	}()

	ml := &Mirrorlist{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Server") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value, _, _ = strings.Cut(strings.TrimSpace(value), "$")
		value = strings.TrimSuffix(value, "/")
		i := strings.LastIndex(value, "/")
		if i < 0 {
			continue
		}
		ml.Branch = value[i+1:]
		ml.Servers = append(ml.Servers, value[:i+1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read mirrorlist %s", path)
	}
	return ml, nil
}

// Exit codes of the status report.
const (
	StatusOK          = 0
	StatusOutOfSync   = 4
	StatusUnknownHost = 5
)

// StatusReport prints the sync state of every server of ml according to
// the status pool p.  It returns StatusOutOfSync if the first server is
// not in sync with the list's branch, StatusUnknownHost if a server is
// not in the status feed, and StatusOK otherwise.
func StatusReport(w io.Writer, ml *Mirrorlist, p *pool.Pool, arch string) int {
	branch := strings.TrimPrefix(ml.Branch, archPrefixes[arch])
	index := branchIndex(branch)
	if index < 0 {
		index = 0
	}

	fmt.Fprintf(w, "Local mirror status for %s branch\n", branch)
	code := StatusOK
	for i, server := range ml.Servers {
		record, ok := p.Lookup(server)
		if !ok || !record.HasProtocol(pool.SchemeOf(server)) {
			fmt.Fprintf(w, "Mirror #%-2d %s does not exist\n", i+1, server)
			code = StatusUnknownHost
			continue
		}

		state := "OK"
		if record.Branches[index] == 0 {
			state = "--"
			if i == 0 && code == StatusOK {
				code = StatusOutOfSync
			}
		}
		fmt.Fprintf(w, "Mirror #%-2d %s %7s %-15s %s\n", i+1, state, record.LastSync, record.Country, server)
	}
	return code
}
