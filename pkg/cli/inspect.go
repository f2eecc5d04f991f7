package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/driver/chrome"
)

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "Print the data-testid inventory of a page",
	ArgsUsage: "<url>",
	Description: `Opens the URL in Chromium and prints every data-testid in document
order. These are the same dumps logged when an element lookup fails.

Examples:
  web-testee inspect http://localhost:3000
  web-testee inspect http://localhost:3000 --body --no-headless`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "body",
			Usage: "Also print document.body.outerHTML",
		},
		&cli.BoolFlag{
			Name:  "no-headless",
			Usage: "Show the browser window",
		},
		&cli.StringFlag{
			Name:    "browser-path",
			Usage:   "Chromium binary",
			EnvVars: []string{"WEB_TESTEE_BROWSER"},
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("inspect requires exactly one URL")
		}
		opts := driver.LaunchOptions{
			Headless:    !c.Bool("no-headless"),
			BrowserPath: c.String("browser-path"),
		}
		return inspect(c.Context, c.App.Writer, chrome.NewLauncher(), opts, c.Args().First(), c.Bool("body"))
	},
}

// inspect opens url in a fresh browser and writes its test ids to w.
func inspect(ctx context.Context, w io.Writer, launcher driver.Launcher, opts driver.LaunchOptions, url string, body bool) error {
	b, err := launcher.Launch(ctx, opts)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer b.Close()

	page, err := b.Page(ctx)
	if err != nil {
		return err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}

	ids, err := page.TestIDs(ctx)
	if err != nil {
		return fmt.Errorf("collect test ids: %w", err)
	}
	fmt.Fprintf(w, "%d test id(s) on %s\n", len(ids), url)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}

	if body {
		html, err := page.BodyHTML(ctx)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, html)
	}
	return nil
}
