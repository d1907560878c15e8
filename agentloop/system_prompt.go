package agentloop

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// BasePrompt instructs the model to act through its tools.
const BasePrompt = `You are PUding Agent, an AI assistant with access to powerful file operation tools.

CRITICAL RULE: When the user asks you to create, build, generate, or make files, you MUST use the available function tools. Never just output code - always create actual files!

Available tools:
- create_file: Create a single file
- create_multiple_files: Create multiple files at once
- read_file: Read a file
- read_multiple_files: Read several files at once
- edit_file: Edit existing files
- list_directory: List the contents of a directory
- run_command: Run shell commands (use for testing, running scripts, installing dependencies)

MANDATORY BEHAVIOR:
1. When user asks for file creation: IMMEDIATELY use create_file or create_multiple_files tools. Files are created relative to the current working directory.
2. When user asks to create projects: Use create_multiple_files with all necessary files
3. When user asks to read files: Use read_file tool
4. When user asks to modify files: Use edit_file tool
5. When user asks to run code or tests: Use run_command tool

EXAMPLES OF WHEN TO USE TOOLS:
- "Create an HTML file" → USE create_file tool
- "Build a web app" → USE create_multiple_files tool
- "Make a Python script" → USE create_file tool
- "Generate a project" → USE create_multiple_files tool
- "Run the tests" → USE run_command tool

You MUST use tools for any file operations. Do not just describe what you would do - DO IT by calling the appropriate function!`

// projectDocFiles are loaded from the sandbox root, in order.
var projectDocFiles = []string{"AGENTS.md", "PUDING.md"}

const maxProjectDocBytes = 32 * 1024

// BuildSystemPrompt assembles the system prompt: the base instructions,
// the environment block, any project instruction files found at root and
// finally the user's own instructions.
func BuildSystemPrompt(root, model, userInstructions string) string {
	parts := []string{BasePrompt, BuildEnvironmentContext(root, model)}
	if docs := LoadProjectDocs(root); docs != "" {
		parts = append(parts, docs)
	}
	if ui := strings.TrimSpace(userInstructions); ui != "" {
		parts = append(parts, "# User Instructions\n\n"+ui)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext describes the workspace to the model.
func BuildEnvironmentContext(root, model string) string {
	branch, inRepo := gitBranch(root)

	lines := []string{
		"Working directory: " + root,
		fmt.Sprintf("Is git repository: %v", inRepo),
	}
	if branch != "" {
		lines = append(lines, "Git branch: "+branch)
	}
	lines = append(lines,
		"Platform: "+runtime.GOOS,
		fmt.Sprintf("OS version: %s/%s", runtime.GOOS, runtime.GOARCH),
		"Today's date: "+time.Now().Format("2006-01-02"),
	)
	if model != "" {
		lines = append(lines, "Model: "+model)
	}
	return "<environment>\n" + strings.Join(lines, "\n") + "\n</environment>"
}

// LoadProjectDocs reads the project instruction files at root. The
// combined text is capped at 32KB.
func LoadProjectDocs(root string) string {
	if root == "" {
		return ""
	}
	var docs []string
	budget := maxProjectDocBytes
	for _, name := range projectDocFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil || len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if budget <= 0 {
			break
		}
		text := string(data)
		if len(text) > budget {
			text = strings.ToValidUTF8(text[:budget], "") + "\n[Project instructions truncated at 32KB]"
		}
		budget -= len(data)
		docs = append(docs, "# "+name+"\n\n"+strings.TrimSpace(text))
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// gitBranch reports the current branch of the repository containing dir,
// and whether dir is inside a work tree at all.
func gitBranch(dir string) (string, bool) {
	if out, ok := git(dir, "rev-parse", "--is-inside-work-tree"); !ok || out != "true" {
		return "", false
	}
	branch, _ := git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	return branch, true
}

func git(dir string, args ...string) (string, bool) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}
