// ABOUTME: Declarative table of agent-facing tools gated by aggregated grants.
// ABOUTME: Evaluated once at startup; the table decides what the agent can see.

package library

import (
	"context"

	"github.com/2389/shelf-gateway/internal/config"
)

// Capabilities aggregates the grants of every configured library. A tool is
// exposed when at least one library could honor it.
type Capabilities struct {
	AnyWrite   bool
	AnyDelete  bool
	AnyConvert bool
	AnyImport  bool
	AnyExport  bool

	// MultiLibrary adds the optional library selector to every tool schema.
	MultiLibrary bool

	// ExposeResources re-registers resource endpoints as plain tools.
	ExposeResources bool
}

// AggregateCapabilities derives the deployment's capability set from config.
func AggregateCapabilities(cfg *config.Config) Capabilities {
	caps := Capabilities{
		MultiLibrary:    len(cfg.Libraries) > 1,
		ExposeResources: cfg.ExposeResourcesViaTools,
	}
	for _, lib := range cfg.Libraries {
		if lib == nil {
			continue
		}
		caps.AnyWrite = caps.AnyWrite || lib.Permissions.Write.Allowed
		caps.AnyDelete = caps.AnyDelete || lib.Permissions.Delete
		caps.AnyConvert = caps.AnyConvert || lib.Permissions.Convert
		caps.AnyImport = caps.AnyImport || lib.Import != nil
		caps.AnyExport = caps.AnyExport || lib.Export != nil
	}
	return caps
}

// Tool is one exposed operation: its schema and the handler that runs it.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func arrayProp(itemType, desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": itemType},
		"description": desc,
	}
}

func inputSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Tools builds the concrete tool set for this deployment. The capability
// predicates run once, here; handlers still enforce per-library permissions
// on every call.
func (s *Service) Tools() []Tool {
	caps := AggregateCapabilities(s.cfg)

	type def struct {
		tool Tool
		when bool
	}

	defs := []def{
		{when: true, tool: Tool{
			Name:        "search_books",
			Description: "Search the library by metadata query. Returns matching book records.",
			InputSchema: inputSchema(map[string]any{
				"query":            prop("string", "Search expression, e.g. 'title:dune' or free text"),
				"limit":            prop("integer", "Maximum results to return (default 10)"),
				"offset":           prop("integer", "Results to skip for pagination"),
				"fields":           arrayProp("string", "Metadata fields to include in each record"),
				"text_field_limit": prop("integer", "Clip long text fields to this many characters"),
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.SearchBooks(ctx, argString(args, "library"), argString(args, "query"),
					argInt(args, "limit", 0), argInt(args, "offset", 0),
					argStringSlice(args, "fields"), argInt(args, "text_field_limit", 0))
			},
		}},
		{when: true, tool: Tool{
			Name:        "get_book_details",
			Description: "Fetch the full metadata record for one book.",
			InputSchema: inputSchema(map[string]any{
				"book_id": prop("integer", "Book identifier"),
				"fields":  arrayProp("string", "Restrict the record to these fields"),
			}, "book_id"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.GetBookDetails(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argStringSlice(args, "fields"))
			},
		}},
		{when: true, tool: Tool{
			Name:        "get_book_content",
			Description: "Read a chunk of a book's text, cut on a sentence boundary when truncated.",
			InputSchema: inputSchema(map[string]any{
				"book_id": prop("integer", "Book identifier"),
				"limit":   prop("integer", "Maximum characters to return"),
				"offset":  prop("integer", "Character offset to start from"),
			}, "book_id"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.GetBookContent(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argInt(args, "limit", 0), argInt(args, "offset", 0))
			},
		}},
		{when: true, tool: Tool{
			Name:        "search_book_content",
			Description: "Find passages where all query terms occur near each other in one book.",
			InputSchema: inputSchema(map[string]any{
				"book_id": prop("integer", "Book identifier"),
				"query":   prop("string", "Terms that must all appear within a passage"),
				"limit":   prop("integer", "Maximum matches to return (default 10)"),
				"offset":  prop("integer", "Matches to skip for pagination"),
			}, "book_id", "query"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.SearchBookContent(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argString(args, "query"),
					argInt(args, "offset", 0), argInt(args, "limit", 0))
			},
		}},
		{when: true, tool: Tool{
			Name:        "fts_search",
			Description: "Query the library's full-text index across all books.",
			InputSchema: inputSchema(map[string]any{
				"query": prop("string", "Full-text query"),
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.FTSSearch(ctx, argString(args, "library"), argString(args, "query"))
			},
		}},
		{when: true, tool: Tool{
			Name:        "get_library_schema",
			Description: "Describe the library's metadata fields, datatypes, and allowed values.",
			InputSchema: inputSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.GetSchema(ctx, argString(args, "library"))
			},
		}},
		{when: true, tool: Tool{
			Name:        "get_field_values",
			Description: "List the distinct values of a field with usage counts.",
			InputSchema: inputSchema(map[string]any{
				"field":    prop("string", "Field name, e.g. 'tags' or '#shelf'"),
				"regex":    prop("string", "Only include values matching this pattern"),
				"book_ids": arrayProp("integer", "Only count values from these books"),
				"limit":    prop("integer", "Maximum values to return (default 50)"),
				"offset":   prop("integer", "Values to skip for pagination"),
			}, "field"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.GetFieldValues(ctx, argString(args, "library"), argString(args, "field"),
					argString(args, "regex"), argIntSlice(args, "book_ids"),
					argInt(args, "offset", 0), argInt(args, "limit", 0))
			},
		}},
		{when: caps.AnyWrite, tool: Tool{
			Name:        "update_book",
			Description: "Apply a validated set of metadata changes to one book.",
			InputSchema: inputSchema(map[string]any{
				"book_id": prop("integer", "Book identifier"),
				"changes": map[string]any{
					"type":        "object",
					"description": "Field name to new value mapping",
				},
			}, "book_id", "changes"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.UpdateBook(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argMap(args, "changes"))
			},
		}},
		{when: caps.AnyWrite, tool: Tool{
			Name:        "bulk_update_metadata",
			Description: "Set one field across many books, optionally replacing a specific old value.",
			InputSchema: inputSchema(map[string]any{
				"field":     prop("string", "Field to update"),
				"old_value": map[string]any{"description": "Only update books whose field currently equals this"},
				"new_value": map[string]any{"description": "Value to set"},
				"book_ids":  arrayProp("integer", "Restrict the update to these books"),
			}, "field"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.BulkUpdateMetadata(ctx, argString(args, "library"), argString(args, "field"),
					args["old_value"], args["new_value"], argIntSlice(args, "book_ids"))
			},
		}},
		{when: caps.AnyDelete, tool: Tool{
			Name:        "delete_book",
			Description: "Delete a book, or only the named format files.",
			InputSchema: inputSchema(map[string]any{
				"book_id": prop("integer", "Book identifier"),
				"formats": arrayProp("string", "Delete only these formats instead of the whole book"),
			}, "book_id"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.DeleteBook(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argStringSlice(args, "formats"))
			},
		}},
		{when: caps.AnyConvert, tool: Tool{
			Name:        "convert_book",
			Description: "Convert a book to another format.",
			InputSchema: inputSchema(map[string]any{
				"book_id":       prop("integer", "Book identifier"),
				"target_format": prop("string", "Format to convert to, e.g. 'EPUB' or 'TXT'"),
			}, "book_id", "target_format"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.ConvertBook(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argString(args, "target_format"))
			},
		}},
		{when: caps.AnyImport, tool: Tool{
			Name:        "list_importable_files",
			Description: "List book files waiting in the import directories.",
			InputSchema: inputSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.ListImportableFiles(ctx, argString(args, "library"))
			},
		}},
		{when: caps.AnyImport, tool: Tool{
			Name:        "add_book",
			Description: "Import book files from the allowed import directories.",
			InputSchema: inputSchema(map[string]any{
				"file_paths": arrayProp("string", "Files to import; must be inside the import allow-list"),
				"changes": map[string]any{
					"type":        "object",
					"description": "Metadata to apply to the imported books",
				},
				"delete_source": prop("boolean", "Remove the source files after a successful import"),
			}, "file_paths"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.AddBook(ctx, argString(args, "library"),
					argStringSlice(args, "file_paths"), argMap(args, "changes"),
					argBool(args, "delete_source"))
			},
		}},
		{when: caps.AnyExport, tool: Tool{
			Name:        "list_exportable_files",
			Description: "List the export directories and the files already in them.",
			InputSchema: inputSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.ListExportableFiles(ctx, argString(args, "library"))
			},
		}},
		{when: caps.AnyExport, tool: Tool{
			Name:        "export_book",
			Description: "Write one of a book's format files to an allowed destination path.",
			InputSchema: inputSchema(map[string]any{
				"book_id":   prop("integer", "Book identifier"),
				"format":    prop("string", "Format to export; defaults to the best available"),
				"file_path": prop("string", "Destination; must be inside the export allow-list"),
			}, "book_id", "file_path"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.ExportBook(ctx, argString(args, "library"),
					argInt(args, "book_id", 0), argString(args, "format"), argString(args, "file_path"))
			},
		}},
		{when: caps.ExposeResources, tool: Tool{
			Name:        "list_libraries",
			Description: "List the configured libraries and their permission grants.",
			InputSchema: inputSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.ListLibraries(), nil
			},
		}},
		{when: caps.ExposeResources, tool: Tool{
			Name:        "list_help_topics",
			Description: "List the available help topics.",
			InputSchema: inputSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.help.List()
			},
		}},
		{when: caps.ExposeResources, tool: Tool{
			Name:        "get_help_topic",
			Description: "Read one help topic as markdown.",
			InputSchema: inputSchema(map[string]any{
				"topic": prop("string", "Topic name from list_help_topics"),
			}, "topic"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.help.Topic(argString(args, "topic"))
			},
		}},
	}

	tools := make([]Tool, 0, len(defs))
	for _, d := range defs {
		if !d.when {
			continue
		}
		if caps.MultiLibrary && takesLibrary(d.tool.Name) {
			addLibraryParam(d.tool.InputSchema)
		}
		tools = append(tools, d.tool)
	}
	return tools
}

// takesLibrary reports whether a tool operates on a single library and so
// needs the selector in multi-library deployments.
func takesLibrary(name string) bool {
	switch name {
	case "list_libraries", "list_help_topics", "get_help_topic":
		return false
	}
	return true
}

func addLibraryParam(schema map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	props["library"] = prop("string", "Library to operate on; omit for the default library")
}
