package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestShellTool_RunsAllowedCommand(t *testing.T) {
	tool := NewShellTool(ShellToolConfig{})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"command": "echo hello"}})
	require.Contains(t, result, "hello")
}

func TestShellTool_DeniesBlacklistedCommand(t *testing.T) {
	tool := NewShellTool(ShellToolConfig{})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"command": "rm -rf /"}})
	require.Contains(t, result, "denied")
}

func TestShellTool_DeniesNonAllowlistedCommand(t *testing.T) {
	tool := NewShellTool(ShellToolConfig{AllowedCommands: []string{"echo"}})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"command": "cat /etc/passwd"}})
	require.Contains(t, result, "not in the allowlist")
}

func TestShellTool_MissingCommandArgument(t *testing.T) {
	tool := NewShellTool(ShellToolConfig{})
	result := tool(context.Background(), ToolCall{Args: map[string]any{}})
	require.Contains(t, result, "command argument is required")
}

func TestSQLTool_ExecutesReadOnlyQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name FROM tasks").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "t1").
			AddRow(2, "t2"))

	tool := NewSQLTool(SQLToolConfig{DB: db})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"query": "SELECT id, name FROM tasks"}})

	require.Contains(t, result, "t1")
	require.Contains(t, result, "t2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTool_RejectsWriteStatement(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tool := NewSQLTool(SQLToolConfig{DB: db})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"query": "DELETE FROM tasks"}})
	require.Contains(t, result, "only read-only")
}

func TestSQLTool_MissingQueryArgument(t *testing.T) {
	tool := NewSQLTool(SQLToolConfig{})
	result := tool(context.Background(), ToolCall{Args: map[string]any{}})
	require.Contains(t, result, "query argument is required")
}

func TestFilesystemTool_WritesThenReadsFile(t *testing.T) {
	tool := NewFilesystemTool(FilesystemToolConfig{Root: t.TempDir()})

	writeResult := tool(context.Background(), ToolCall{Args: map[string]any{
		"operation": "write", "path": "notes/a.txt", "content": "hello workspace",
	}})
	require.Contains(t, writeResult, "wrote")

	readResult := tool(context.Background(), ToolCall{Args: map[string]any{
		"operation": "read", "path": "notes/a.txt",
	}})
	require.Contains(t, readResult, "hello workspace")
}

func TestFilesystemTool_ListsDirectory(t *testing.T) {
	root := t.TempDir()
	tool := NewFilesystemTool(FilesystemToolConfig{Root: root})

	tool(context.Background(), ToolCall{Args: map[string]any{"operation": "write", "path": "a.txt", "content": "x"}})
	tool(context.Background(), ToolCall{Args: map[string]any{"operation": "write", "path": "sub/b.txt", "content": "y"}})

	result := tool(context.Background(), ToolCall{Args: map[string]any{"operation": "list", "path": "."}})
	require.Contains(t, result, "a.txt")
	require.Contains(t, result, "sub/")
}

func TestFilesystemTool_DeniesPathEscapingRoot(t *testing.T) {
	tool := NewFilesystemTool(FilesystemToolConfig{Root: t.TempDir()})
	result := tool(context.Background(), ToolCall{Args: map[string]any{
		"operation": "read", "path": "../../etc/passwd",
	}})
	require.Contains(t, result, "escapes the filesystem tool root")
}

func TestFilesystemTool_MissingArguments(t *testing.T) {
	tool := NewFilesystemTool(FilesystemToolConfig{Root: t.TempDir()})
	require.Contains(t, tool(context.Background(), ToolCall{Args: map[string]any{}}), "operation argument is required")
	require.Contains(t, tool(context.Background(), ToolCall{Args: map[string]any{"operation": "read"}}), "path argument is required")
}

func TestFilesystemTool_ReadMissingFile(t *testing.T) {
	tool := NewFilesystemTool(FilesystemToolConfig{Root: t.TempDir()})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"operation": "read", "path": "missing.txt"}})
	require.Contains(t, result, "error")
}

func TestFilesystemTool_UnknownOperation(t *testing.T) {
	tool := NewFilesystemTool(FilesystemToolConfig{Root: t.TempDir()})
	result := tool(context.Background(), ToolCall{Args: map[string]any{"operation": "delete", "path": "a.txt"}})
	require.Contains(t, result, "unknown operation")
}
