package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

var (
	// DefaultPath is the PATH handed to commands that run with a scrubbed
	// environment.
	DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/bin:/usr/sbin:/bin:/sbin"

	// killGrace bounds how long Wait blocks on inherited pipes after the
	// process group was killed.
	killGrace = 5 * time.Second
)

// ExecOptions controls how a command is run.
type ExecOptions struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env replaces the environment. When nil the command only sees PATH.
	Env []string
	// InheritEnv passes the caller's environment through, with Env appended.
	InheritEnv bool
	// Credential drops the child to the given uid/gid. Requires privilege.
	Credential *syscall.Credential
	// Stdin is fed to the command when non-empty.
	Stdin string
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExecCmd and ExecCmdWithStream are variables so tests can swap them.
var (
	ExecCmd           = execCmd
	ExecCmdWithStream = execCmdWithStream
)

// GetOSEnvirons returns the system environment variables
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves the HTTP and HTTPS proxy environment
// variables as sorted KEY=VALUE pairs, ready for ExecOptions.Env.
func GetOSProxyEnvirons() []string {
	var proxyEnv []string
	for key, value := range GetOSEnvirons() {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "http_proxy") ||
			strings.Contains(lower, "https_proxy") ||
			lower == "no_proxy" {
			proxyEnv = append(proxyEnv, key+"="+value)
		}
	}
	sort.Strings(proxyEnv)
	return proxyEnv
}

// getShell returns the preferred shell, falling back to /bin/sh if bash is not available
func getShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// IsCommandExist checks if a command exists on the host
func IsCommandExist(cmd string) bool {
	output, _ := exec.Command(getShell(), "-c", "command -v "+cmd).Output()
	return len(bytes.TrimSpace(output)) != 0
}

// ValidateCmdStr rejects empty command strings and unbalanced quoting so
// configuration mistakes surface before a build starts.
func ValidateCmdStr(cmdStr string) error {
	if strings.TrimSpace(cmdStr) == "" {
		return errors.New("empty command")
	}
	var quote rune
	escaped := false
	for _, r := range cmdStr {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated %c quote in command %q", quote, cmdStr)
	}
	return nil
}

func buildCmd(ctx context.Context, cmdStr string, opts ExecOptions) *exec.Cmd {
	cmd := exec.CommandContext(ctx, getShell(), "-c", cmdStr)
	cmd.Dir = opts.Dir

	var env []string
	if opts.InheritEnv {
		env = os.Environ()
	} else if !hasKey(opts.Env, "PATH") {
		env = []string{"PATH=" + DefaultPath}
	}
	cmd.Env = append(env, opts.Env...)

	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	// Own process group so cancellation takes down everything the hook spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Credential: opts.Credential}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace
	return cmd
}

func hasKey(env []string, key string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// execCmd executes a command and returns its captured output
func execCmd(ctx context.Context, cmdStr string, opts ExecOptions) (Result, error) {
	log := logger.Logger()
	log.Debugf("Exec: [%s] dir=%s", cmdStr, opts.Dir)

	cmd := buildCmd(ctx, cmdStr, opts)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = exitCode(err)
		if res.Stderr != "" {
			log.Debugf("%s", res.Stderr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("failed to exec %s: %w", cmdStr, ctxErr)
		}
		return res, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	if res.Stdout != "" {
		log.Debugf("%s", res.Stdout)
	}
	return res, nil
}

// execCmdWithStream executes a command, logging each output line as it
// arrives while still capturing both streams.
func execCmdWithStream(ctx context.Context, cmdStr string, opts ExecOptions) (Result, error) {
	log := logger.Logger()
	log.Debugf("Exec (stream): [%s] dir=%s", cmdStr, opts.Dir)

	cmd := buildCmd(ctx, cmdStr, opts)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get stdout pipe for command %s: %w", cmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get stderr pipe for command %s: %w", cmdStr, err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start command %s: %w", cmdStr, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			str := scanner.Text()
			outBuf.WriteString(str)
			outBuf.WriteByte('\n')
			if str != "" {
				log.Infof("%s", str)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			str := scanner.Text()
			errBuf.WriteString(str)
			errBuf.WriteByte('\n')
			if str != "" {
				log.Warnf("%s", str)
			}
		}
	}()

	wg.Wait()

	err = cmd.Wait()
	res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		res.ExitCode = exitCode(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("failed to wait for command %s: %w", cmdStr, ctxErr)
		}
		return res, fmt.Errorf("failed to wait for command %s: %w", cmdStr, err)
	}
	return res, nil
}
