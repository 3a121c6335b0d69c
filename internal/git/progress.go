package git

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// progressLine matches sideband lines such as
// "Receiving objects:  45% (9/20), 1.2 KiB | 1.2 MiB/s".
var progressLine = regexp.MustCompile(`^([A-Za-z ]+):\s+\d+% \((\d+)/(\d+)\)`)

// progressWriter turns the transport's sideband text into Progress reports.
type progressWriter struct {
	t   Transfer
	buf bytes.Buffer
}

func newProgressWriter(t Transfer) *progressWriter {
	return &progressWriter{t: t}
}

// Write implements io.Writer. Lines are terminated by \r or \n.
func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:i]))
		w.buf.Next(i + 1)
		if line != "" {
			w.t.progress(parseProgress(line))
		}
	}
	return len(p), nil
}

func parseProgress(line string) Progress {
	p := Progress{Message: line}
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return p
	}
	p.Stage = strings.TrimSpace(m[1])
	p.Current, _ = strconv.Atoi(m[2])
	p.Total, _ = strconv.Atoi(m[3])
	return p
}
