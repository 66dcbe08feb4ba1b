package httpadapter

import (
	"bufio"
	"io"
	"strings"
)

// writeSSE writes payload as one event. Each line of a multi-line payload
// gets its own data field so clients rejoin it with newlines.
func writeSSE(w io.Writer, payload string) error {
	var b strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// ReadSSE yields the data of each event read from r, rejoining multi-line
// data fields. Comment lines and other fields are ignored.
func ReadSSE(r io.Reader, fn func(data string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				if !fn(strings.Join(data, "\n")) {
					return nil
				}
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data = append(data, strings.TrimPrefix(value, " "))
	}
	return sc.Err()
}
