// Command frontwatch-agent feeds events to a frontwatch collector and
// talks to its source map endpoints.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
