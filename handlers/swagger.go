package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the gateway.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRoutes) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>CEOLIN document gateway - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "ceolin-document-gateway", "version": "v1.0.0" },
  "components": {
    "schemas": {
      "Message": { "type": "object", "properties": { "message": {"type":"string"}, "details": {"type":"string"} } },
      "Conflict": { "type": "object", "properties": { "message": {"type":"string"}, "error_code": {"type":"string","enum":["CONFLICT"]} } },
      "WriteResult": { "type": "object", "properties": { "store": {"type":"string"}, "path": {"type":"string"}, "sha": {"type":"string"}, "commit_sha": {"type":"string"}, "message": {"type":"string"}, "committed_at": {"type":"string","format":"date-time"} } }
    },
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } }
  },
  "paths": {
    "/api/save-content": {
      "get": {
        "summary": "Read the whole document (default document when none exists yet)",
        "responses": {
          "200": { "description": "serialized document and its version", "content": { "application/json": { "schema": {"type":"object","properties":{"content":{"type":"string"},"sha":{"type":"string"}}}}}},
          "500": { "description": "store or configuration failure", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Message"}}}}
        }
      },
      "post": {
        "summary": "Replace the whole document (compare-and-swap on sha)",
        "security": [ { "bearer": [] } ],
        "requestBody": { "required": true, "content": { "application/json": { "schema": {"type":"object","required":["content"],"properties":{"content":{"type":"string"},"sha":{"type":"string","description":"version the edit was based on; omitted = current version"}}}}}},
        "responses": {
          "200": { "description": "committed", "content": { "application/json": { "schema": {"type":"object","properties":{"message":{"type":"string"},"data":{"$ref":"#/components/schemas/WriteResult"}}}}}},
          "400": { "description": "content missing or not a string", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Message"}}}},
          "409": { "description": "version conflict", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Conflict"}}}},
          "422": { "description": "content is not document-shaped (shape validation enabled)" },
          "500": { "description": "store or configuration failure", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Message"}}}}
        }
      }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "text exposition format" } } } }
  }
}`
