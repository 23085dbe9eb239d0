package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventflow/faasctl/console"
	"github.com/eventflow/faasctl/deploy"
	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/mutation"
)

const (
	watchFlag      = "watch"
	yesFlag        = "yes"
	replicasFlag   = "replicas"
	imageFlag      = "image"
	runtimeFlag    = "runtime"
	sourceFileFlag = "source-file"
	gitURLFlag     = "git-url"
	gitBranchFlag  = "git-branch"
	gitPathFlag    = "git-path"
	envFlag        = "env"
	commandFlag    = "command"
	dataFlag       = "data"
)

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the functions of your namespace",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConsole(func(c *console.Console) error {
				fns, err := c.Functions(cmd.Context())
				if err != nil {
					return err
				}
				write(cmd.OutOrStdout(), renderFunctions(fns, time.Now()))
				return nil
			})
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a single function",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().Bool(watchFlag, false, "keep refreshing until interrupted")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		name := function.Name(args[0])
		watch, _ := cmd.Flags().GetBool(watchFlag)

		return a.withConsole(func(c *console.Console) error {
			if watch {
				return follow(cmd, a, c, func(opts ...console.ViewOption) *console.View {
					return c.OpenDetailView(name, opts...)
				}, func(v *console.View, now time.Time) string {
					fn, err := v.Function()
					if err != nil {
						return err.Error() + "\n"
					}
					return renderFunction(fn, now)
				})
			}

			fn, err := c.Function(cmd.Context(), name)
			if err != nil {
				return err
			}
			write(cmd.OutOrStdout(), renderFunction(fn, time.Now()))
			return nil
		})
	}
	return cmd
}

func newCreateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Deploy a function from an image, source code or a git repository",
		Long: `Deploy a function. Exactly one source must be given:

  --image REF                           a prebuilt container image
  --runtime RUNTIME --source-file FILE  source code built by the platform (python, nodejs, go)
  --git-url URL                         a repository built by the platform`,
		Args: cobra.ExactArgs(1),
	}

	flags := cmd.Flags()
	flags.Int32(replicasFlag, 1, fmt.Sprintf("number of replicas (0-%d)", deploy.MaxReplicas))
	flags.String(imageFlag, "", "container image reference")
	flags.String(runtimeFlag, "", "runtime of the source file")
	flags.String(sourceFileFlag, "", "path of the source file")
	flags.String(gitURLFlag, "", "repository URL")
	flags.String(gitBranchFlag, deploy.DefaultBranch, "repository branch")
	flags.String(gitPathFlag, deploy.DefaultPath, "path of the function inside the repository")
	flags.StringToString(envFlag, nil, "environment variables as KEY=VALUE")
	flags.StringSlice(commandFlag, nil, "command overriding the image entrypoint")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		req, err := deploymentRequest(cmd, args[0])
		if err != nil {
			return err
		}

		return a.withConsole(func(c *console.Console) error {
			fn, err := c.Mutations.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Function %q created (%s).\n", fn.Name, status(fn))
			return nil
		})
	}
	return cmd
}

func deploymentRequest(cmd *cobra.Command, name string) (*function.DeploymentRequest, error) {
	flags := cmd.Flags()
	replicas, _ := flags.GetInt32(replicasFlag)
	image, _ := flags.GetString(imageFlag)
	runtime, _ := flags.GetString(runtimeFlag)
	sourceFile, _ := flags.GetString(sourceFileFlag)
	gitURL, _ := flags.GetString(gitURLFlag)
	env, _ := flags.GetStringToString(envFlag)
	command, _ := flags.GetStringSlice(commandFlag)

	opts := []deploy.Option{}
	if len(env) > 0 {
		opts = append(opts, deploy.WithEnv(env))
	}
	if len(command) > 0 {
		opts = append(opts, deploy.WithCommand(command...))
	}

	sources := 0
	for _, set := range []bool{image != "", sourceFile != "" || runtime != "", gitURL != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of --image, --source-file or --git-url is required")
	}

	switch {
	case image != "":
		return deploy.Image(name, replicas, image, opts...)
	case gitURL != "":
		branch, _ := flags.GetString(gitBranchFlag)
		path, _ := flags.GetString(gitPathFlag)
		return deploy.Git(name, replicas, gitURL, branch, path, opts...)
	}

	code := ""
	if sourceFile != "" {
		byt, err := os.ReadFile(sourceFile)
		if err != nil {
			return nil, fmt.Errorf("read source file: %w", err)
		}
		code = string(byt)
	}
	return deploy.Code(name, replicas, runtime, code, opts...)
}

func newDeleteCommand(a *app) *cobra.Command {
	return newDestroyCommand(a, "delete", "deleted", "Delete a function and its record", func(c *console.Console) destroyFunc {
		return c.Mutations.Delete
	})
}

func newUndeployCommand(a *app) *cobra.Command {
	return newDestroyCommand(a, "undeploy", "undeployed", "Remove a function's deployment but keep its record", func(c *console.Console) destroyFunc {
		return c.Mutations.Undeploy
	})
}

type destroyFunc func(ctx context.Context, name function.Name, confirm mutation.Confirm) error

func newDestroyCommand(a *app, use, done, short string, op func(c *console.Console) destroyFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolP(yesFlag, "y", false, "do not ask for confirmation")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		name := function.Name(args[0])
		yes, _ := cmd.Flags().GetBool(yesFlag)

		return a.withConsole(func(c *console.Console) error {
			if err := op(c)(cmd.Context(), name, confirmer(cmd, yes)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Function %q %s.\n", name, done)
			return nil
		})
	}
	return cmd
}

// confirmer asks on stdin unless yes is set. Anything but y or yes declines.
func confirmer(cmd *cobra.Command, yes bool) mutation.Confirm {
	if yes {
		return mutation.AlwaysConfirm
	}
	return func(name function.Name, op string) bool {
		fmt.Fprintf(cmd.OutOrStdout(), "Really %s function %q? [y/N] ", op, name)
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func newInvokeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke NAME",
		Short: "Invoke a function with a JSON payload",
		Long:  "Invoke a function. Invocations are never retried.",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringP(dataFlag, "d", "", "JSON payload")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString(dataFlag)
		var payload json.RawMessage
		if data != "" {
			if !json.Valid([]byte(data)) {
				return errors.New("--data must be valid JSON")
			}
			payload = json.RawMessage(data)
		}

		return a.withConsole(func(c *console.Console) error {
			res, err := c.Mutations.Invoke(cmd.Context(), function.Name(args[0]), payload)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "HTTP %d\n", res.StatusCode)
			write(out, string(res.Body))
			if len(res.Body) > 0 && res.Body[len(res.Body)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return nil
		})
	}
	return cmd
}

func newLogsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs NAME",
		Short: "Print a function's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConsole(func(c *console.Console) error {
				logs, err := c.Mutations.Logs(cmd.Context(), function.Name(args[0]))
				if err != nil {
					return err
				}
				write(cmd.OutOrStdout(), logs)
				return nil
			})
		},
	}
}
