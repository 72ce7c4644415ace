package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	cyan    = "\033[36m"
	yellow  = "\033[33m"
	magenta = "\033[35m"
	dim     = "\033[2m"
)

var logoLines = [5]string{
	`       _       _                                `,
	`   ___| | __ _(_)_ __ ___  ___ _   _ _ __   ___ `,
	`  / __| |/ _` + "`" + ` | | '_ ` + "`" + ` _ \/ __| | | | '_ \ / __|`,
	` | (__| | (_| | | | | | | \__ \ |_| | | | | (__ `,
	`  \___|_|\__,_|_|_| |_| |_|___/\__, |_| |_|\___|`,
}

// PrintBanner prints the claimsync logo followed by the run mode, version
// and the address the process talks to. Colors are used only when stderr
// is a TTY.
func PrintBanner(mode, ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	modeColor := yellow
	if mode == "devserver" {
		modeColor = magenta
	}

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %s%s%s   %sversion%s %s   %saddr%s %s\n\n",
			bold+modeColor, mode, reset, dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  %s   version %s   addr %s\n\n", mode, ver, addr)
	}
}
