package agent

import "os"

// writeExecutable writes a shell script to path and marks it executable, so
// tests can stand in a fake agent binary without depending on any real
// claude/codex/gemini install.
func writeExecutable(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o755)
}
