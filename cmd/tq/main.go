package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/omalloc/chunksync/server/mod"
)

// tq explains access log lines read from stdin, e.g.
//
//	tail -n 1 logs/access.log | tq
func main() {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64<<10), 1<<20)

	for in.Scan() {
		explain(os.Stdout, in.Text())
	}
}

func explain(w io.Writer, line string) {
	sb := strings.Builder{}
	fields := strings.Split(strings.TrimSpace(line), " ")
	for i, field := range fields {
		mark := "?"
		if i < len(mod.FieldNames) {
			mark = mod.FieldNames[i]
		}
		if mark == "" {
			continue
		}

		fmt.Fprintf(&sb, "(%d)%s: %s", i, mark, field)

		// the next field continues this one, e.g. the zone of RequestTime
		if i+1 < len(fields) && i+1 < len(mod.FieldNames) && mod.FieldNames[i+1] == "" {
			sb.WriteString(" ")
			sb.WriteString(fields[i+1])
		}
		sb.WriteString("\n")
	}

	fmt.Fprintln(w, sb.String())
}
