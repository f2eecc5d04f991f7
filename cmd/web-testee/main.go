// Command web-testee serves test runner sessions against a Chromium page.
package main

import "github.com/devicelab-dev/web-testee/pkg/cli"

func main() {
	cli.Execute()
}
