// Package subserver registers the Bilibili MCP tools: bili_search,
// bili_video_info, bili_subtitles.
package subserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools registers all Bilibili tools on the given MCP server.
func RegisterTools(server *mcp.Server) {
	registerSearch(server)
	registerVideoInfo(server)
	registerSubtitles(server)
}
