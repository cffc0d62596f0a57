package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Timeouts for git subcommands.
const (
	cloneTimeout = 120 * time.Second
	pullTimeout  = 60 * time.Second
	localTimeout = 15 * time.Second
	pushTimeout  = 60 * time.Second
)

// networkSubcommands are the git subcommands that touch the remote and
// therefore need the proxy environment injected.
var networkSubcommands = map[string]bool{
	"clone": true,
	"pull":  true,
	"push":  true,
	"fetch": true,
}

// Git is a typed façade over the git binary with explicit timeouts and
// proxy handling. Construct once and share; it holds no per-repo state.
type Git struct {
	log *zap.Logger

	// test seams
	lookPathEnv func(string) string
	runCommand  func(ctx context.Context, dir string, env []string, args ...string) (string, string, error)
}

// NewGit creates the git façade.
func NewGit(log *zap.Logger) *Git {
	g := &Git{log: log, lookPathEnv: os.Getenv}
	g.runCommand = g.execRun
	return g
}

func (g *Git) execRun(ctx context.Context, dir string, env []string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if env != nil {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// proxyEnv returns the extra environment for network git commands. When a
// proxy variable is already exported the subprocess inherits it; the macOS
// system proxy is the fallback.
func (g *Git) proxyEnv() []string {
	for _, v := range []string{"HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy", "HTTP_PROXY", "http_proxy"} {
		if g.lookPathEnv(v) != "" {
			return nil
		}
	}
	if runtime.GOOS != "darwin" {
		return nil
	}
	proxy := detectMacProxy()
	if proxy == "" {
		return nil
	}
	g.log.Debug("detected system proxy", zap.String("proxy", proxy))
	return append(os.Environ(), "https_proxy="+proxy, "http_proxy="+proxy)
}

// detectMacProxy reads the web proxy from networksetup, returning an empty
// string when none is enabled.
func detectMacProxy() string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "networksetup", "-getwebproxy", "Wi-Fi").Output()
	if err != nil {
		return ""
	}
	fields := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if fields["Enabled"] == "Yes" && fields["Server"] != "" && fields["Port"] != "" {
		return "http://" + fields["Server"] + ":" + fields["Port"]
	}
	return ""
}

// Run executes one git subcommand with a timeout. The -c http.version
// override avoids HTTP/2 quirks on network commands; stderr is folded
// into the returned error.
func (g *Git) Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	var env []string
	full := args
	if networkSubcommands[sub] {
		env = g.proxyEnv()
		full = append([]string{"-c", "http.version=HTTP/1.1"}, args...)
	}

	stdout, stderr, err := g.runCommand(runCtx, dir, env, full...)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", sub, timeout)
		}
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s failed: %s", sub, msg)
	}
	return stdout, nil
}

// InjectToken rewrites an HTTPS git URL to carry an access token.
func InjectToken(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	return "https://x-access-token:" + token + "@" + strings.TrimPrefix(repoURL, "https://")
}
