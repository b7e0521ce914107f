// bookchat is a terminal chat client for bookingd.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "bookchat",
		Usage: "Chat with a bookingd server from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "http://localhost:8080", Usage: "bookingd server URL"},
		},
		Action: func(c *cli.Context) error {
			chatClient, err := dial(c.String("server"))
			if err != nil {
				return err
			}
			defer chatClient.close()

			program := tea.NewProgram(newModel(chatClient), tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("error running UI: %w", err)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
