package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/danpilch/calltrace/pkg/profile"
)

// DumpFrames outputs every retained frame with its raw timestamps, indented
// by call depth.
func DumpFrames(w io.Writer, tree *profile.CallTree) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, debugTitle.Render("Raw Frame Dump"))
	fmt.Fprintln(w, debugDim.Render(strings.Repeat("═", 85)))
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		debugHeader.Render("FUNCTION                    "),
		debugHeader.Render("START       "),
		debugHeader.Render("END         "),
		debugHeader.Render("OWN       "),
		debugHeader.Render("FLAGS "))
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 85)))

	for _, root := range tree.Roots {
		tree.Walk(root, func(f *profile.CallFrame, depth int) {
			name := strings.Repeat("  ", depth) + f.Key.Name
			fmt.Fprintf(w, "  %-30s %-14d %-14d %-11v %s\n",
				name, f.Start, f.End, f.OwnTime(), debugDim.Render(flagString(f)))
		})
	}
}

func flagString(f *profile.CallFrame) string {
	var flags []string
	if f.Has(profile.FlagTruncated) {
		flags = append(flags, "truncated")
	}
	if f.Has(profile.FlagClockSkew) {
		flags = append(flags, "skew")
	}
	if f.Has(profile.FlagOwnClamped) {
		flags = append(flags, "clamped")
	}
	if f.Recursive {
		flags = append(flags, "recursive")
	}
	return strings.Join(flags, ",")
}
