package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"metalearn/api/internal/cli"
	"metalearn/api/internal/logging"
)

func main() {
	logging.Init(logging.Config{Level: "warn", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	args := os.Args[1:]
	if url := os.Getenv("METALEARN_API_URL"); url != "" {
		args = append([]string{"-api", url}, args...)
	}
	code := cli.Run(ctx, args, cli.Env{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		ReadPassword: readPassword,
	})
	stop()
	os.Exit(code)
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, pass -password")
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
