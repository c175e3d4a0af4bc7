package command

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Executor dispatches parsed directives to their side effects. It never
// returns an error to the caller; every failure is downgraded to a Result
// with Success set to false.
type Executor struct {
	logger *slog.Logger
	sysctl *SystemControl

	// opener launches a URL in the host's default handler. Injectable so
	// tests don't spawn browsers.
	opener func(ctx context.Context, url string) error

	now func() time.Time
}

// NewExecutor creates an executor with platform defaults.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{
		logger: logger,
		sysctl: NewSystemControl(logger),
		opener: openInBrowser,
		now:    time.Now,
	}
}

// Execute performs the action for a single directive.
//
// Weather and news directives are resolved by the turn runner, which folds
// lookup data into the visible response; reaching them here returns a bare
// acknowledgment. That layering is intentional.
func (e *Executor) Execute(ctx context.Context, d Directive) Result {
	switch d.Type {
	case TypeTime:
		now := e.now()
		return Result{
			Type:    d.Type,
			Success: true,
			Message: fmt.Sprintf("Current time: %s | Date: %s", now.Format("3:04:05 PM"), now.Format("1/2/2006")),
		}

	case TypeOpenURL:
		target := normalizeURL(d.Arg)
		if err := e.opener(ctx, target); err != nil {
			return Result{Type: d.Type, Success: false, Message: fmt.Sprintf("Failed to open %s: %v", target, err)}
		}
		return Result{Type: d.Type, Success: true, Message: fmt.Sprintf("Opened %s", target)}

	case TypeSearch:
		searchURL := "https://www.google.com/search?q=" + url.QueryEscape(d.Arg)
		if err := e.opener(ctx, searchURL); err != nil {
			return Result{Type: d.Type, Success: false, Message: fmt.Sprintf("Search failed: %v", err)}
		}
		return Result{Type: d.Type, Success: true, Message: fmt.Sprintf("Searching for %q", d.Arg)}

	case TypeSystem:
		res := e.sysctl.Run(ctx, d.Arg)
		res.Type = d.Type
		return res

	case TypeFile:
		action, path, _ := strings.Cut(d.Arg, ":")
		res := e.sysctl.FileOperation(ctx, action, path)
		res.Type = d.Type
		return res

	case TypeWeather:
		return Result{Type: d.Type, Success: true, Message: fmt.Sprintf("Weather query for %s", d.Arg)}

	case TypeNews:
		return Result{Type: d.Type, Success: true, Message: fmt.Sprintf("News query for %s", d.Arg)}

	default:
		return Result{Type: d.Type, Success: false, Message: fmt.Sprintf("Unknown command: %s", d.Type)}
	}
}

// normalizeURL prefixes a scheme when the argument carries none.
func normalizeURL(arg string) string {
	if strings.HasPrefix(arg, "http") {
		return arg
	}
	return "https://" + arg
}

// openInBrowser opens a URL with the platform's default handler.
func openInBrowser(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", target)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	return cmd.Start()
}
