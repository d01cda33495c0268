package tools

import (
	"context"
	"time"
)

// RegisterBuiltins installs the general-mode demo tools. These return
// simulated data; real deployments register their own handlers over them.
func RegisterBuiltins(reg *Registry) {
	defs := []Definition{
		{
			Name:        "execute_sql_query",
			Description: "Execute a SQL query on a database. Use this for data retrieval and analytics.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":    map[string]any{"type": "string", "description": "The SQL query to execute"},
					"database": map[string]any{"type": "string", "description": "The database name (optional, defaults to main)"},
				},
				"required": []string{"query"},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				database := stringArg(args, "database")
				if database == "" {
					database = "main"
				}
				return map[string]any{
					"success":  true,
					"database": database,
					"query":    stringArg(args, "query"),
					"rows": []map[string]any{
						{"id": 1, "name": "Example", "value": 100},
						{"id": 2, "name": "Sample", "value": 200},
					},
					"rowCount": 2,
					"message":  "Query executed successfully (simulated)",
				}, nil
			},
		},
		{
			Name:        "get_analytics",
			Description: "Retrieve analytics data for a given time period and metric.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"metric":    map[string]any{"type": "string", "description": `The metric to retrieve (e.g., "users", "revenue", "conversions")`},
					"startDate": map[string]any{"type": "string", "description": "Start date in ISO format (YYYY-MM-DD)"},
					"endDate":   map[string]any{"type": "string", "description": "End date in ISO format (YYYY-MM-DD)"},
				},
				"required": []string{"metric", "startDate", "endDate"},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				start := stringArg(args, "startDate")
				end := stringArg(args, "endDate")
				return map[string]any{
					"metric": stringArg(args, "metric"),
					"period": map[string]any{"start": start, "end": end},
					"value":  12345,
					"trend":  "+12.5%",
					"dataPoints": []map[string]any{
						{"date": start, "value": 10000},
						{"date": end, "value": 12345},
					},
					"message": "Analytics retrieved successfully (simulated)",
				}, nil
			},
		},
		{
			Name:        "search_knowledge_base",
			Description: "Search the knowledge base for relevant information on a topic.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":      map[string]any{"type": "string", "description": "The search query"},
					"maxResults": map[string]any{"type": "number", "description": "Maximum number of results to return (default: 5)"},
				},
				"required": []string{"query"},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				query := stringArg(args, "query")
				return map[string]any{
					"query": query,
					"results": []map[string]any{
						{"title": "Example Document 1", "content": "Relevant information about " + query, "relevance": 0.95},
						{"title": "Example Document 2", "content": "Additional context for " + query, "relevance": 0.87},
					},
					"totalResults": 2,
					"message":      "Knowledge base search completed (simulated)",
				}, nil
			},
		},
		{
			Name:        "call_external_api",
			Description: "Make a call to an external API endpoint.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":    map[string]any{"type": "string", "description": "The API endpoint URL"},
					"method": map[string]any{"type": "string", "description": "HTTP method (GET, POST, PUT, DELETE)"},
					"body":   map[string]any{"type": "object", "description": "Request body (for POST/PUT)"},
				},
				"required": []string{"url", "method"},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				method := stringArg(args, "method")
				if method == "" {
					method = "GET"
				}
				return map[string]any{
					"url":    stringArg(args, "url"),
					"method": method,
					"status": 200,
					"data": map[string]any{
						"message":   "API call successful (simulated)",
						"timestamp": time.Now().UTC().Format(time.RFC3339),
					},
				}, nil
			},
		},
		{
			Name:        "get_weather",
			Description: "Get current weather information for a location.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{"type": "string", "description": "City name or coordinates"},
					"units":    map[string]any{"type": "string", "description": "Temperature units: celsius or fahrenheit"},
				},
				"required": []string{"location"},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				units := stringArg(args, "units")
				if units == "" {
					units = "celsius"
				}
				temperature := 22
				if units == "fahrenheit" {
					temperature = 72
				}
				return map[string]any{
					"location":    stringArg(args, "location"),
					"temperature": temperature,
					"condition":   "Partly Cloudy",
					"humidity":    65,
					"windSpeed":   15,
					"units":       units,
					"message":     "Weather data retrieved (simulated)",
				}, nil
			},
		},
	}

	for _, def := range defs {
		_ = reg.Register(def)
	}
}
