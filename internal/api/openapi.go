package api

import "net/http"

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the session API.
func buildOpenAPIDoc(authenticated bool) map[string]any {
	get := func(summary string, responses ...string) map[string]any {
		return map[string]any{"get": map[string]any{"summary": summary, "responses": describe(responses)}}
	}

	trace := map[string]any{
		"summary": "Ray trace an image with the running geometry session",
		"requestBody": map[string]any{
			"required": false,
			"content": map[string]any{
				"application/json": map[string]any{"schema": traceRequestSchema()},
			},
		},
		"responses": describe([]string{"200", "400", "422", "502", "503", "504"}),
	}
	if authenticated {
		trace["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		trace["responses"].(map[string]any)["401"] = map[string]any{"description": "Missing or invalid API key"}
	}

	events := get("Server-sent stream of trace and engine events", "200")
	if authenticated {
		events["get"].(map[string]any)["security"] = []any{map[string]any{"BearerAuth": []string{}}}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "celergeo session API",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz":                get("Session liveness", "200", "503"),
			"/setup":                  get("Model setup echoed by the engine", "200"),
			"/stats":                  get("ORANGE geometry sizes", "200", "422", "502"),
			"/traces":                 get("Recent traces, newest first", "200", "400"),
			"/traces/{traceID}":       get("One recorded trace", "200", "404"),
			"/traces/{traceID}/image": get("Raw int32 pixel buffer of a trace", "200", "404"),
			"/trace":                  map[string]any{"post": trace},
			"/events":                 events,
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

var responseDescriptions = map[string]string{
	"200": "OK",
	"400": "Bad request",
	"404": "Not found",
	"422": "Engine raised an exception",
	"502": "Engine protocol failure",
	"503": "Engine is not running",
	"504": "Engine request timed out",
}

func describe(codes []string) map[string]any {
	out := make(map[string]any, len(codes))
	for _, c := range codes {
		out[c] = map[string]any{"description": responseDescriptions[c]}
	}
	return out
}

func traceRequestSchema() map[string]any {
	real3 := map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "number"},
		"minItems": 3,
		"maxItems": 3,
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"image": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"upper_right"},
				"properties": map[string]any{
					"lower_left":         real3,
					"upper_right":        real3,
					"rightward":          real3,
					"vertical_pixels":    map[string]any{"type": "integer", "minimum": 0, "default": 512},
					"horizontal_divisor": map[string]any{"type": "integer", "minimum": 1},
				},
			},
			"geometry": map[string]any{"type": "string", "enum": []string{"geant4", "vecgeom", "orange"}},
			"memspace": map[string]any{"type": "string", "enum": []string{"host", "device"}},
		},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.APIKey != ""))
}
