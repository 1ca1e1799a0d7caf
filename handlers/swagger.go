package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the model hub API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
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
    <title>modelhub-api - Swagger</title>
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
  "info": { "title": "modelhub-api", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Model": { "type": "object", "additionalProperties": true, "properties": { "_id": {"type":"string"}, "name": {"type":"string"}, "created_by": {"type":"string"}, "created_at": {"type":"string"}, "downloads": {"type":"integer"}, "file_key": {"type":"string"} } },
      "Download": { "type": "object", "additionalProperties": true, "properties": { "_id": {"type":"string"}, "downloaded_by": {"type":"string"} } }
    }
  },
  "paths": {
    "/": { "get": { "summary": "Liveness text", "responses": { "200": { "description": "running" } } } },
    "/models": {
      "get": { "summary": "List all models", "responses": { "200": { "description": "array of models" } } },
      "post": { "summary": "Insert a model", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Model"} } } }, "responses": { "200": { "description": "insert result" }, "400": { "description": "body is not an object" } } }
    },
    "/models/{id}": {
      "parameters": [ { "name": "id", "in": "path", "required": true, "schema": {"type":"string"} } ],
      "get": { "summary": "Fetch one model (null when absent)", "security": [ {"bearer": []} ], "responses": { "200": { "description": "model or null" }, "401": { "description": "missing token" }, "403": { "description": "invalid token" } } },
      "put": { "summary": "Set the given fields", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Model"} } } }, "responses": { "200": { "description": "update result" } } },
      "delete": { "summary": "Delete a model", "responses": { "200": { "description": "delete result" } } }
    },
    "/latest-models": { "get": { "summary": "Six most recent models by created_at", "responses": { "200": { "description": "array of models" } } } },
    "/my-models": { "get": { "summary": "Models created by email", "security": [ {"bearer": []} ], "parameters": [ { "name": "email", "in": "query", "schema": {"type":"string"} } ], "responses": { "200": { "description": "array of models" }, "401": { "description": "missing token" }, "403": { "description": "invalid token" } } } },
    "/search": { "get": { "summary": "Case-insensitive substring search on name", "parameters": [ { "name": "name", "in": "query", "required": true, "schema": {"type":"string"} } ], "responses": { "200": { "description": "array of models" }, "400": { "description": "name missing" } } } },
    "/downloads/{id}": { "post": { "summary": "Record a download and count it on the model", "parameters": [ { "name": "id", "in": "path", "required": true, "schema": {"type":"string"} } ], "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Download"} } } }, "responses": { "200": { "description": "{result, downloadCounted, fileUrl?}" } } } },
    "/my-downloads": { "get": { "summary": "Download records of email", "parameters": [ { "name": "email", "in": "query", "schema": {"type":"string"} } ], "responses": { "200": { "description": "array of download records" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "exposition format" } } } }
  }
}`
