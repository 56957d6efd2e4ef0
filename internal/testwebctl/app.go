package testwebctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/testweb/testweb/internal/testweb"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testwebctl/build"
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the applications's output.
	Out io.Writer
}

// Params holds the parameters shared by all commands.
type Params struct {
	// Config files merged over the built-in defaults, in order.
	ConfigFiles []string
	// Overrides Backend.BaseUrl when set.
	BaseUrl string
	// Builds the runner the commands talk to. Tests replace it with a fake.
	RunnerFactory RunnerFactory
}

// New instantiates an App with default parameters writing to standard output.
func New() *App {
	return &App{
		Params: &Params{RunnerFactory: NewOrchestratorRunner},
		Out:    os.Stdout,
	}
}

// Config loads the configuration named by the params.
func (a *App) Config() (*configuration.TestWebConfiguration, error) {
	config, err := testweb.LoadConfiguration(a.Params.ConfigFiles)
	if err != nil {
		return nil, err
	}
	if a.Params.BaseUrl != "" {
		config.Backend.BaseUrl = a.Params.BaseUrl
	}
	return config, nil
}

// withRunner hands a freshly built runner to fn and closes it afterwards.
func (a *App) withRunner(ctx context.Context, fn func(TestRunner) error) (err error) {
	config, err := a.Config()
	if err != nil {
		return err
	}
	runner, err := a.Params.RunnerFactory(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runner.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(runner)
}

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return nil
}

// Serve runs the HTTP API until ctx is cancelled. A non-zero port overrides the configured one.
func (a *App) Serve(ctx context.Context, port uint16) error {
	config, err := a.Config()
	if err != nil {
		return err
	}
	if port != 0 {
		config.HttpPort = port
	}
	fmt.Fprintf(a.Out, "Serving Test-Web API on :%d\n", config.HttpPort)
	return testweb.New(config).StartUp(ctx)
}
