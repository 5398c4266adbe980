// Command satori-audit produces maintenance audit reports for one managed
// website and runs the scheduled audits.
package main

import (
	"os"

	"github.com/SatoriAU/site-audit/satori/slogger"
)

func main() {
	slogger.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
