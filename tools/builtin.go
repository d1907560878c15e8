package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
)

const (
	ReadFile            = "read_file"
	ReadMultipleFiles   = "read_multiple_files"
	CreateFile          = "create_file"
	CreateMultipleFiles = "create_multiple_files"
	EditFile            = "edit_file"
	RunCommand          = "run_command"
	ListDirectory       = "list_directory"
)

type readFileArgs struct {
	FilePath string `json:"file_path" validate:"required" jsonschema_description:"Path to the file to read"`
}

type readFilesArgs struct {
	FilePaths []string `json:"file_paths" jsonschema_description:"List of file paths to read"`
}

type createFileArgs struct {
	FilePath string `json:"file_path" validate:"required" jsonschema_description:"Path where the file should be created"`
	Content  string `json:"content" jsonschema_description:"Content to write to the file"`
}

type fileSpec struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

type createFilesArgs struct {
	Files []fileSpec `json:"files" jsonschema_description:"List of files to create, each with path and content"`
}

type editFileArgs struct {
	FilePath        string `json:"file_path" validate:"required" jsonschema_description:"Path to the file to edit"`
	OriginalSnippet string `json:"original_snippet" validate:"required" jsonschema_description:"The exact text to be replaced"`
	NewSnippet      string `json:"new_snippet" jsonschema_description:"The new text to replace the original snippet"`
}

type runCommandArgs struct {
	Command string `json:"command" validate:"required" jsonschema_description:"The shell command to run"`
}

type listDirectoryArgs struct {
	DirPath string `json:"dir_path,omitempty" jsonschema_description:"Path to the directory to list (default: current directory)"`
}

// builtin binds a typed handler to its reflected schema.
func builtin[A any](name, description string, run func(ctx context.Context, a *A) (any, error)) Descriptor {
	params := Schema(new(A))
	required := requiredKeys(params)
	return Descriptor{
		Definition: Definition{Name: name, Description: description, Parameters: params},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a := new(A)
			if err := decodeArgs(args, required, a); err != nil {
				return nil, err
			}
			return run(ctx, a)
		},
	}
}

func builtins(env *Environment) []Descriptor {
	return []Descriptor{
		builtin(ReadFile, "Read the content of a single file",
			func(_ context.Context, a *readFileArgs) (any, error) {
				fc, err := env.ReadFile(a.FilePath)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"file_path": a.FilePath,
					"content":   fc.Content,
					"size":      fc.Length(),
					"mime_type": fc.MIMEType,
				}, nil
			}),

		builtin(ReadMultipleFiles, "Read the contents of multiple files",
			func(_ context.Context, a *readFilesArgs) (any, error) {
				files := map[string]string{}
				errs := []string{}
				for _, p := range a.FilePaths {
					fc, err := env.ReadFile(p)
					if err != nil {
						errs = append(errs, fmt.Sprintf("'%s': %s", p, classify(ReadFile, err).Error))
						continue
					}
					files[p] = fc.Content
				}
				return map[string]any{"files": files, "errors": errs}, nil
			}),

		builtin(CreateFile, "Create a new file or overwrite an existing one",
			func(_ context.Context, a *createFileArgs) (any, error) {
				if _, err := env.WriteFile(a.FilePath, a.Content); err != nil {
					return nil, err
				}
				return map[string]any{
					"file_path": a.FilePath,
					"size":      len(a.Content),
				}, nil
			}),

		createFiles(env),

		builtin(EditFile, "Replace a specific snippet in a file with new content",
			func(_ context.Context, a *editFileArgs) (any, error) {
				fc, err := env.ReadFile(a.FilePath)
				if err != nil {
					return nil, err
				}
				if !strings.Contains(fc.Content, a.OriginalSnippet) {
					return nil, invalidf("Original snippet not found in '%s'", a.FilePath)
				}
				updated := strings.Replace(fc.Content, a.OriginalSnippet, a.NewSnippet, 1)
				if _, err := env.WriteFile(a.FilePath, updated); err != nil {
					return nil, err
				}
				oldLen, newLen := utf8.RuneCountInString(fc.Content), utf8.RuneCountInString(updated)
				return map[string]any{
					"file_path":       a.FilePath,
					"original_length": oldLen,
					"new_length":      newLen,
					"diff":            newLen - oldLen,
				}, nil
			}),

		builtin(RunCommand, "Run a shell command",
			func(ctx context.Context, a *runCommandArgs) (any, error) {
				return env.ExecCommand(ctx, a.Command)
			}),

		builtin(ListDirectory, "List the contents of a directory",
			func(_ context.Context, a *listDirectoryArgs) (any, error) {
				dir := a.DirPath
				if strings.TrimSpace(dir) == "" {
					dir = "."
				}
				_, items, err := env.ListDirectory(dir)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"directory": dir,
					"items":     items,
					"count":     len(items),
				}, nil
			}),
	}
}

// createFiles decodes each entry on its own so a malformed entry fails alone.
func createFiles(env *Environment) Descriptor {
	params := Schema(new(createFilesArgs))
	required := requiredKeys(params)
	entryRequired := requiredKeys(Schema(new(fileSpec)))

	return Descriptor{
		Definition: Definition{
			Name:        CreateMultipleFiles,
			Description: "Create multiple files at once",
			Parameters:  params,
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			if err := decodeArgs(args, required, &struct{}{}); err != nil {
				return nil, err
			}
			var entries []any
			if err := mapstructure.Decode(args["files"], &entries); err != nil {
				return nil, invalidf("Invalid arguments: files must be a list: %v", err)
			}

			files := map[string]int{}
			errs := []string{}
			for i, entry := range entries {
				m, ok := entry.(map[string]any)
				if !ok {
					errs = append(errs, fmt.Sprintf("entry %d: expected an object with path and content", i))
					continue
				}
				var spec fileSpec
				if err := decodeArgs(m, entryRequired, &spec); err != nil {
					errs = append(errs, fmt.Sprintf("entry %d: %s", i, classify(CreateMultipleFiles, err).Error))
					continue
				}
				if _, err := env.WriteFile(spec.Path, spec.Content); err != nil {
					errs = append(errs, fmt.Sprintf("'%s': %s", spec.Path, classify(CreateFile, err).Error))
					continue
				}
				files[spec.Path] = len(spec.Content)
			}
			return map[string]any{"files": files, "errors": errs}, nil
		},
	}
}
