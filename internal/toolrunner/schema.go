package toolrunner

import "github.com/blockwait/toolhost/internal/types"

// Services describes the agent-facing tool catalog served at GET /tools.
func Services() []types.Service {
	return []types.Service{
		{
			ID:          "tools",
			Name:        "Tool Execution",
			Description: "Stateful bash sessions and line-exact file editing",
			Tools:       []types.Tool{bashTool(), editorTool()},
			Capabilities: []string{
				"stateful_sessions",
				"interactive_input",
				"undoable_edits",
			},
		},
	}
}

func bashTool() types.Tool {
	return types.Tool{
		ID:          "bash",
		Name:        "Bash",
		Description: "Run a command in a persistent shell session. If the command pauses waiting for input, follow up on the reply endpoint.",
		Parameters: []types.Parameter{
			{Name: "session_id", Type: "string", Description: "Session to run in; a new shell is spawned on first use", Required: true},
			{Name: "command", Type: "string", Description: "Shell command to run", Required: true},
		},
		Returns: "stdout, stderr and whether the command is awaiting input",
	}
}

func editorTool() types.Tool {
	return types.Tool{
		ID:          "text_editor",
		Name:        "Text Editor",
		Description: "View, create and edit files with per-path undo history.",
		Parameters: []types.Parameter{
			{
				Name: "command", Type: "string", Required: true,
				Description: "Operation to perform",
				Enum:        []string{"view", "create", "str_replace", "insert", "undo_edit"},
			},
			{Name: "path", Type: "string", Description: "Absolute path to the file or directory", Required: true},
			{Name: "file_text", Type: "string", Description: "Full content for create"},
			{Name: "old_str", Type: "string", Description: "Exact text to replace; must occur exactly once"},
			{Name: "new_str", Type: "string", Description: "Replacement text; empty deletes old_str"},
			{Name: "insert_line", Type: "integer", Description: "1-based line to insert after; 0 inserts at the top"},
			{Name: "view_range", Type: "array", Description: "Two-element [start, end] line range; end -1 means end of file"},
		},
		Returns: "the affected lines with context, or the requested view",
	}
}
