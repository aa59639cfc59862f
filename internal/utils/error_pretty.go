package utils

import (
	"fmt"
	"io"
	"strings"
)

// PrettyPrintError writes err to w with every wrapped cause indented one
// level deeper. Each error of a join starts at the left margin again.
func PrettyPrintError(w io.Writer, err error) {
	for line := range strings.SplitSeq(err.Error(), "\n") {
		indent := 0
		for part := range strings.SplitSeq(line, ": ") {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", indent), part)
			indent += 2
		}
	}
}
