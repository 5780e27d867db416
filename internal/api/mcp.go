package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/extract"
	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/storage"
)

// MCPExtractor runs attribute extraction for the extract_attributes tool.
type MCPExtractor interface {
	Extract(ctx context.Context, req extract.Request) listing.Extracted
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     storage.Store
	Catalog   *catalog.Catalog
	Extractor MCPExtractor
}

// NewMCPServer creates an MCP server with the marketplace tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"bazar",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bazar: marketplace catalog, product attribute extraction and listing management."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_categories",
			mcp.WithDescription("List the marketplace categories, their subcategories and expected attributes."),
		),
		mcpListCategories(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_attributes",
			mcp.WithDescription("Extract structured attributes, a price range and listing copy for a product name."),
			mcp.WithString("product_name", mcp.Description("Product name as a seller would type it"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Category name from list_categories"), mcp.Required()),
			mcp.WithString("subcategory", mcp.Description("Subcategory name from list_categories"), mcp.Required()),
		),
		mcpExtractAttributes(deps),
	)

	s.AddTool(
		mcp.NewTool("list_listings",
			mcp.WithDescription("List the newest listings, optionally for one user."),
			mcp.WithString("user_id", mcp.Description("Only listings of this user")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of listings (default 10)")),
		),
		mcpListListings(deps),
	)

	s.AddTool(
		mcp.NewTool("get_listing",
			mcp.WithDescription("Fetch one listing by id."),
			mcp.WithString("id", mcp.Description("Listing id"), mcp.Required()),
		),
		mcpGetListing(deps),
	)

	s.AddTool(
		mcp.NewTool("set_listing_status",
			mcp.WithDescription("Mark a listing active, sold or inactive."),
			mcp.WithString("id", mcp.Description("Listing id"), mcp.Required()),
			mcp.WithString("status", mcp.Description("active, sold or inactive"), mcp.Required()),
		),
		mcpSetListingStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bazar://actions/recent",
			"Recent Actions",
			mcp.WithResourceDescription("Last 20 entries of the conversation action log"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentActions(deps),
	)

	return s
}

func mcpListCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Catalog.Empty() {
			return mcpError("no categories are configured"), nil
		}
		return mcpJSON(deps.Catalog.Categories())
	}
}

func mcpExtractAttributes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("product_name")
		if err != nil {
			return mcpError("product_name is required"), nil
		}
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		subcategory, err := req.RequireString("subcategory")
		if err != nil {
			return mcpError("subcategory is required"), nil
		}

		cat, ok := deps.Catalog.FindCategory(category)
		if !ok {
			return mcpError(fmt.Sprintf("unknown category %q", category)), nil
		}
		sub, ok := deps.Catalog.FindSubcategory(cat.Name, subcategory)
		if !ok {
			return mcpError(fmt.Sprintf("unknown subcategory %q in %s", subcategory, cat.Name)), nil
		}

		res := deps.Extractor.Extract(ctx, extract.Request{
			ProductName: name,
			Category:    cat.Name,
			Subcategory: sub.Name,
			Attributes:  sub.Attributes,
		})
		if !res.Success {
			return mcpError(fmt.Sprintf("extraction failed: %s", res.Error)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListListings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		var (
			ls  []listing.Listing
			err error
		)
		if raw := req.GetString("user_id", ""); raw != "" {
			userID, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return mcpError(fmt.Sprintf("invalid user_id %q", raw)), nil
			}
			ls, err = deps.Store.ListUserListings(userID, limit)
		} else {
			ls, err = deps.Store.ListListings(limit)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		if ls == nil {
			ls = []listing.Listing{}
		}
		return mcpJSON(ls)
	}
}

func mcpGetListing(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		l, err := deps.Store.GetListing(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("listing %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get listing: %v", err)), nil
		}
		return mcpJSON(l)
	}
}

func mcpSetListingStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}
		st, err := listing.ParseStatus(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		l, err := deps.Store.UpdateListingStatus(id, st)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("listing %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to update listing: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Listing %s is now %s", l.ID, l.Status)), nil
	}
}

func mcpResourceRecentActions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Store.RecentActions(20)
		if err != nil {
			return nil, fmt.Errorf("failed to read action log: %w", err)
		}
		if entries == nil {
			entries = []storage.ActionEntry{}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal actions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
