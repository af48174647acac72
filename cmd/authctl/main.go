// Command authctl drives the auth state machine from a terminal. Sessions
// survive between invocations through the configured credential store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/config"
)

type cli struct {
	Config   string        `help:"Path to the YAML or JSON configuration file." default:"authctl.yaml" env:"AUTHCTL_CONFIG" type:"path" short:"c"`
	LogLevel string        `help:"Override the configured log level." env:"AUTHCTL_LOG_LEVEL" name:"log-level"`
	Timeout  time.Duration `help:"Upper bound for the whole command." default:"30s"`

	SignIn         signInCmd         `cmd:"" name:"sign-in" help:"Sign in and answer any challenges on stdin."`
	Session        sessionCmd        `cmd:"" help:"Fetch the current auth session."`
	Devices        devicesCmd        `cmd:"" help:"Manage the devices of the signed-in user."`
	ChangePassword changePasswordCmd `cmd:"" name:"change-password" help:"Change the password of the signed-in user."`
	SignOut        signOutCmd        `cmd:"" name:"sign-out" help:"Sign out and clear stored credentials."`
}

// app is bound into every command Run method.
type app struct {
	ctx    context.Context
	client *authstate.Client
	in     io.Reader
	out    io.Writer
}

type runEnv struct {
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	options []authstate.Option
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], runEnv{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, env runEnv) error {
	var root cli
	parser, err := kong.New(&root,
		kong.Name("authctl"),
		kong.Description("Sign in to a user pool and inspect the resulting session."),
		kong.Writers(env.out, env.errOut),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if root.LogLevel != "" {
		cfg.Log.Level = root.LogLevel
	}

	ctx, cancel := context.WithTimeout(ctx, root.Timeout)
	defer cancel()

	opts := append([]authstate.Option{authstate.WithLogOutput(env.errOut)}, env.options...)
	client, err := authstate.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = client.Close(closeCtx)
	}()

	if _, err := client.Configure(ctx); err != nil {
		return err
	}

	return kctx.Run(&app{ctx: ctx, client: client, in: env.in, out: env.out})
}
