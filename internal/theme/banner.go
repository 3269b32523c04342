package theme

import (
	"fmt"
)

// Banner returns the songbird banner shown by interactive commands.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		"   ♪ ♫     " + magenta + "WARBLE" + reset + "     ♫ ♪\n" +
		cyan + "        __\n" + reset +
		cyan + "      <(o )___\n" + reset +
		cyan + "       ( ._> /\n" + reset +
		cyan + "        `---'\n" + reset +
		yellow + "   ─────────────────────────\n" + reset +
		"   a quota-minded songbird for X ♪\n"

	notes := magenta + "       ♪    ♫     ♪     ♫\n" + reset
	return art + notes
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
