// Package mcpserver exposes the memory service over the Model Context
// Protocol: one tool per service operation, resources for the raw markdown
// and entity profiles, and prompt builders for reflection workflows.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phucnt/kioku/internal/service"
	"github.com/phucnt/kioku/pkg/memory"
)

const (
	memoryResourcePrefix = "kioku://memories/"
	entityResourcePrefix = "kioku://entities/"
)

// New builds the MCP server over svc. The caller runs it on a transport of
// its choice, stdio in production.
func New(svc *service.Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kioku",
		Title:   "Kioku personal memory",
		Version: version,
	}, nil)

	addTools(server, svc)
	addResources(server, svc)
	addPrompts(server, svc)
	return server
}

// ─────────────────────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────────────────────

type saveArgs struct {
	Text string   `json:"text" jsonschema:"the memory text to save"`
	Mood string   `json:"mood,omitempty" jsonschema:"optional mood label"`
	Tags []string `json:"tags,omitempty" jsonschema:"optional tags"`
}

type searchArgs struct {
	Query    string   `json:"query" jsonschema:"free-text search query"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum results, default 5"`
	DateFrom string   `json:"date_from,omitempty" jsonschema:"inclusive lower bound, YYYY-MM-DD"`
	DateTo   string   `json:"date_to,omitempty" jsonschema:"inclusive upper bound, YYYY-MM-DD"`
	Entities []string `json:"entities,omitempty" jsonschema:"entity names to focus the search on"`
}

type recallArgs struct {
	Entity  string `json:"entity" jsonschema:"entity name to recall around"`
	MaxHops int    `json:"max_hops,omitempty" jsonschema:"traversal depth, default 2"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum related nodes, default 20"`
}

type explainArgs struct {
	From string `json:"from" jsonschema:"first entity name"`
	To   string `json:"to" jsonschema:"second entity name"`
}

type listEntitiesArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum entities, default 20"`
}

type timelineArgs struct {
	Start  string `json:"start,omitempty" jsonschema:"inclusive start date, YYYY-MM-DD"`
	End    string `json:"end,omitempty" jsonschema:"inclusive end date, YYYY-MM-DD"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum entries, default 20"`
	SortBy string `json:"sort_by,omitempty" jsonschema:"processing_time or event_time"`
}

type entitiesResult struct {
	Entities []memory.GraphNode `json:"entities"`
}

type datesResult struct {
	Dates []string `json:"dates"`
}

type timelineResult struct {
	Memories []memory.Document `json:"memories"`
}

func addTools(server *mcp.Server, svc *service.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_memory",
		Description: "Save a personal memory. It is indexed for keyword, semantic and graph search.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args saveArgs) (*mcp.CallToolResult, service.SaveResult, error) {
		res, err := svc.Save(ctx, args.Text, args.Mood, args.Tags)
		if err != nil {
			return nil, service.SaveResult{}, err
		}
		return nil, res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memories",
		Description: "Search memories with combined keyword, semantic and graph retrieval.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, service.SearchResponse, error) {
		res, err := svc.Search(ctx, args.Query, args.Limit, args.DateFrom, args.DateTo, args.Entities)
		if err != nil {
			return nil, service.SearchResponse{}, err
		}
		return nil, res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall_related",
		Description: "Recall everything connected to an entity in the memory graph, with the source memories.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args recallArgs) (*mcp.CallToolResult, service.RecallResult, error) {
		res, err := svc.RecallRelated(ctx, args.Entity, args.MaxHops, args.Limit)
		if err != nil {
			return nil, service.RecallResult{}, err
		}
		return nil, res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "explain_connection",
		Description: "Explain how two entities are connected: the shortest path and its evidence memories.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args explainArgs) (*mcp.CallToolResult, service.ConnectionResult, error) {
		res, err := svc.ExplainConnection(ctx, args.From, args.To)
		if err != nil {
			return nil, service.ConnectionResult{}, err
		}
		return nil, res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_entities",
		Description: "List the most-mentioned entities in the memory graph.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args listEntitiesArgs) (*mcp.CallToolResult, entitiesResult, error) {
		nodes, err := svc.ListEntities(ctx, args.Limit)
		if err != nil {
			return nil, entitiesResult{}, err
		}
		return nil, entitiesResult{Entities: nodes}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_memory_dates",
		Description: "List every date that has saved memories, newest first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, datesResult, error) {
		dates, err := svc.ListDates(ctx)
		if err != nil {
			return nil, datesResult{}, err
		}
		return nil, datesResult{Dates: dates}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_timeline",
		Description: "Get memories in a date window in chronological order, by processing or event time.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args timelineArgs) (*mcp.CallToolResult, timelineResult, error) {
		docs, err := svc.Timeline(ctx, args.Start, args.End, args.Limit, args.SortBy)
		if err != nil {
			return nil, timelineResult{}, err
		}
		return nil, timelineResult{Memories: docs}, nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

func addResources(server *mcp.Server, svc *service.Service) {
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "memories",
		Title:       "Memories of one day",
		URITemplate: memoryResourcePrefix + "{date}",
		MIMEType:    "text/markdown",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		date := strings.TrimPrefix(req.Params.URI, memoryResourcePrefix)
		if date == "" || date == req.Params.URI {
			return nil, fmt.Errorf("mcpserver: bad memories URI %q", req.Params.URI)
		}
		raw, err := svc.ReadMemoryResource(date)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     raw,
			}},
		}, nil
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "entities",
		Title:       "Entity profile",
		URITemplate: entityResourcePrefix + "{name}",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		name := strings.TrimPrefix(req.Params.URI, entityResourcePrefix)
		if name == "" || name == req.Params.URI {
			return nil, fmt.Errorf("mcpserver: bad entities URI %q", req.Params.URI)
		}
		profile, err := svc.ReadEntityResource(ctx, name)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     profile,
			}},
		}, nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Prompts
// ─────────────────────────────────────────────────────────────────────────────

func addPrompts(server *mcp.Server, svc *service.Service) {
	server.AddPrompt(&mcp.Prompt{
		Name:        "reflect_on_day",
		Description: "Reflect on today's memories.",
	}, func(ctx context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text, err := svc.ReflectOnDay(ctx)
		if err != nil {
			return nil, err
		}
		return promptResult("Reflect on today's memories", text), nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "analyze_relationships",
		Description: "Analyze the relationship with one entity.",
		Arguments: []*mcp.PromptArgument{{
			Name:        "entity",
			Description: "Entity name to analyze",
			Required:    true,
		}},
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		entity := req.Params.Arguments["entity"]
		if entity == "" {
			return nil, fmt.Errorf("mcpserver: analyze_relationships: entity argument is required: %w", memory.ErrInvalidInput)
		}
		text, err := svc.AnalyzeRelationships(ctx, entity)
		if err != nil {
			return nil, err
		}
		return promptResult("Analyze relationship with "+entity, text), nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "weekly_review",
		Description: "Review the last seven days of memories.",
	}, func(ctx context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text, err := svc.WeeklyReview(ctx)
		if err != nil {
			return nil, err
		}
		return promptResult("Weekly review", text), nil
	})
}

func promptResult(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: text},
		}},
	}
}
