package executor

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// defaultDeniedCommands blocks the most common ways a shell tool call could
// do something destructive to the host running the orchestrator.
var defaultDeniedCommands = map[string]bool{
	"rm": true, "rmdir": true, "sudo": true, "su": true,
	"chmod": true, "chown": true, "dd": true, "mkfs": true,
	"kill": true, "killall": true, "pkill": true, "reboot": true, "shutdown": true,
}

var defaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`--no-preserve-root`),
}

// ShellToolConfig configures NewShellTool's whitelist/blacklist.
type ShellToolConfig struct {
	AllowedCommands []string // if non-empty, only these base commands run
	WorkingDir      string
	Timeout         time.Duration
}

// NewShellTool returns a ToolHandler that runs call.Args["command"] through
// /bin/sh -c, subject to a denylist of destructive commands/patterns and an
// optional allowlist. Every outcome — success, denial, or execution error —
// is returned as a JSON string; the handler never returns a Go error.
func NewShellTool(cfg ShellToolConfig) ToolHandler {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = true
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return func(ctx context.Context, call ToolCall) string {
		command, _ := call.Args["command"].(string)
		command = strings.TrimSpace(command)
		if command == "" {
			return toolError("command argument is required")
		}

		base := strings.Fields(command)
		if len(base) == 0 {
			return toolError("command argument is required")
		}
		if defaultDeniedCommands[base[0]] {
			return toolError(fmt.Sprintf("command %q is denied", base[0]))
		}
		for _, pattern := range defaultDeniedPatterns {
			if pattern.MatchString(command) {
				return toolError("command matches a denied pattern")
			}
		}
		if len(allowed) > 0 && !allowed[base[0]] {
			return toolError(fmt.Sprintf("command %q is not in the allowlist", base[0]))
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
		if cfg.WorkingDir != "" {
			cmd.Dir = cfg.WorkingDir
		}
		var out, stderr bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return toolErrorf(map[string]any{
				"error":  err.Error(),
				"stderr": stderr.String(),
			})
		}
		return toolResult(out.String())
	}
}

// SQLToolConfig configures NewSQLTool.
type SQLToolConfig struct {
	DB           *sql.DB
	MaxRows      int
	QueryTimeout time.Duration
}

// NewSQLTool returns a ToolHandler that runs call.Args["query"] as a
// read-only SQL query (rejecting statements that look like writes) and
// returns up to MaxRows rows as JSON.
func NewSQLTool(cfg SQLToolConfig) ToolHandler {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 100
	}
	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, call ToolCall) string {
		query, _ := call.Args["query"].(string)
		query = strings.TrimSpace(query)
		if query == "" {
			return toolError("query argument is required")
		}
		if !isReadOnlyQuery(query) {
			return toolError("only read-only SELECT queries are permitted")
		}
		if cfg.DB == nil {
			return toolError("no database configured")
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		rows, err := cfg.DB.QueryContext(runCtx, query)
		if err != nil {
			return toolErrorf(map[string]any{"error": err.Error()})
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return toolErrorf(map[string]any{"error": err.Error()})
		}

		var records []map[string]any
		for rows.Next() && len(records) < maxRows {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			row := make(map[string]any, len(cols))
			for i, col := range cols {
				row[col] = values[i]
			}
			records = append(records, row)
		}

		data, _ := json.Marshal(map[string]any{"rows": records})
		return string(data)
	}
}

// FilesystemToolConfig configures NewFilesystemTool.
type FilesystemToolConfig struct {
	Root         string // tasks may not escape this directory
	MaxReadBytes int
}

// NewFilesystemTool returns a ToolHandler that reads, writes, and lists
// files under cfg.Root per call.Args["operation"] ("read", "write",
// "list"), rejecting any path that resolves outside Root. Every outcome is
// returned as a JSON string; the handler never returns a Go error.
func NewFilesystemTool(cfg FilesystemToolConfig) ToolHandler {
	maxRead := cfg.MaxReadBytes
	if maxRead <= 0 {
		maxRead = 1 << 20 // 1 MiB
	}

	return func(_ context.Context, call ToolCall) string {
		op, _ := call.Args["operation"].(string)
		path, _ := call.Args["path"].(string)
		if op == "" {
			return toolError("operation argument is required")
		}
		if path == "" {
			return toolError("path argument is required")
		}

		resolved, err := resolveWithinRoot(cfg.Root, path)
		if err != nil {
			return toolError(err.Error())
		}

		switch op {
		case "read":
			info, err := os.Stat(resolved)
			if err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			if info.Size() > int64(maxRead) {
				return toolError(fmt.Sprintf("file exceeds the %d byte read limit", maxRead))
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			return toolResult(string(data))

		case "write":
			content, _ := call.Args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			return toolResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))

		case "list":
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return toolErrorf(map[string]any{"error": err.Error()})
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			data, _ := json.Marshal(map[string]any{"entries": names})
			return string(data)

		default:
			return toolError(fmt.Sprintf("unknown operation %q", op))
		}
	}
}

// resolveWithinRoot joins root and path, rejecting anything that resolves
// outside root — the same fail-closed posture the shell tool's denylist
// uses, applied to path traversal instead of command text.
func resolveWithinRoot(root, path string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no filesystem root configured")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absRoot, path)
	rel, err := filepath.Rel(absRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the filesystem tool root", path)
	}
	return joined, nil
}

var writeStatementPattern = regexp.MustCompile(`(?i)^\s*(insert|update|delete|drop|alter|truncate|create|grant|revoke)\b`)

func isReadOnlyQuery(query string) bool {
	return !writeStatementPattern.MatchString(query)
}

func toolError(message string) string {
	data, _ := json.Marshal(map[string]any{"error": message})
	return string(data)
}

func toolErrorf(payload map[string]any) string {
	data, _ := json.Marshal(payload)
	return string(data)
}

func toolResult(output string) string {
	data, _ := json.Marshal(map[string]any{"output": output})
	return string(data)
}
