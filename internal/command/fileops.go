package command

import (
	"context"
	"fmt"
	"os"
)

// FileOperation performs a single file action. The action names mirror what
// the assistant is prompted to emit: open, create, delete, list.
func (s *SystemControl) FileOperation(ctx context.Context, action, path string) Result {
	switch action {
	case "open":
		return s.openFile(ctx, path)
	case "create":
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return fail("Failed to create file: %v", err)
		}
		return ok(fmt.Sprintf("File %s created", path))
	case "delete":
		if err := os.Remove(path); err != nil {
			return fail("Failed to delete file: %v", err)
		}
		return ok(fmt.Sprintf("File %s deleted", path))
	case "list":
		if path == "" {
			path = "."
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return fail("Failed to list directory: %v", err)
		}
		return Result{
			Success: true,
			Message: fmt.Sprintf("Directory contains %d items", len(entries)),
			Data:    map[string]any{"fileCount": len(entries)},
		}
	default:
		return Result{Success: false, Message: fmt.Sprintf("Unknown file operation: %s", action)}
	}
}

// openFile hands the path to the platform's default opener.
func (s *SystemControl) openFile(ctx context.Context, path string) Result {
	var err error
	switch s.goos {
	case "windows":
		_, err = s.run(ctx, "cmd", "/c", "start", "", path)
	case "darwin":
		_, err = s.run(ctx, "open", path)
	default:
		_, err = s.run(ctx, "xdg-open", path)
	}
	if err != nil {
		return fail("Failed to open file: %v", err)
	}
	return ok(fmt.Sprintf("File %s opened", path))
}
