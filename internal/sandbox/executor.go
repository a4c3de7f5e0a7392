package sandbox

import (
	"context"

	"github.com/open-edge-platform/deb2arch/internal/utils/shell"
)

// Command is a hook invocation.
type Command struct {
	Name     string
	Script   string
	Dir      string
	Env      []string
	Identity Identity
}

// Executor runs hook commands. Implementations must honour ctx.
type Executor interface {
	Run(ctx context.Context, cmd Command) (shell.Result, error)
}

// ShellExecutor runs hooks through the host shell with a scrubbed
// environment.
type ShellExecutor struct {
	// Stream logs hook output as it arrives.
	Stream bool
}

func (e ShellExecutor) Run(ctx context.Context, cmd Command) (shell.Result, error) {
	if err := shell.ValidateCmdStr(cmd.Script); err != nil {
		return shell.Result{ExitCode: -1}, err
	}
	opts := shell.ExecOptions{
		Dir:        cmd.Dir,
		Env:        cmd.Env,
		Credential: cmd.Identity.credential(),
	}
	if e.Stream {
		return shell.ExecCmdWithStream(ctx, cmd.Script, opts)
	}
	return shell.ExecCmd(ctx, cmd.Script, opts)
}
