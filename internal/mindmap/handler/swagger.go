package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger serves a Swagger UI page and the OpenAPI document of the mindmap API.
// - GET /swagger/index.html
// - GET /swagger/doc.json
func RegisterSwagger(r gin.IRouter) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})
	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>gogotex-mindmaps API</title>
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
  "info": { "title": "gogotex-mindmaps", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } },
    "schemas": {
      "Account": { "type": "object", "properties": { "id": {"type":"string"}, "email": {"type":"string"}, "fullName": {"type":"string"} } },
      "Collaborator": { "type": "object", "properties": { "collaborator": {"$ref":"#/components/schemas/Account"}, "role": {"type":"string","enum":["editor","viewer"]}, "message": {"type":"string"} } }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/maps": {
      "get": { "summary": "List mindmaps the caller collaborates on", "responses": { "200": { "description": "metadata list" } } },
      "post": { "summary": "Create a mindmap", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"},"content":{"type":"string"},"public":{"type":"boolean"}}}}}}, "responses": { "201": { "description": "created" }, "400": { "description": "invalid input" }, "429": { "description": "rate limited" } } },
      "delete": { "summary": "Delete owned mindmaps, leave shared ones", "parameters": [ {"name":"ids","in":"query","required":true,"schema":{"type":"string"}} ], "responses": { "200": { "description": "deleted and left ids" }, "403": { "description": "no access to one of the mindmaps" }, "404": { "description": "unknown mindmap" } } }
    },
    "/api/maps/{id}": {
      "get": { "summary": "Get a mindmap with its content", "responses": { "200": { "description": "mindmap" }, "403": { "description": "no access" }, "404": { "description": "not found" } } },
      "post": { "summary": "Duplicate a readable mindmap", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"}}}}}}, "responses": { "201": { "description": "created" }, "400": { "description": "title missing" }, "403": { "description": "no access" } } },
      "delete": { "summary": "Delete a mindmap (owner only)", "responses": { "204": { "description": "deleted" }, "403": { "description": "not the owner" } } }
    },
    "/api/maps/{id}/document": {
      "put": { "summary": "Save content; minor=true skips history", "parameters": [ {"name":"minor","in":"query","schema":{"type":"boolean"}} ], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"content":{"type":"string"},"properties":{"type":"string"}}}}}}, "responses": { "200": { "description": "saved" }, "403": { "description": "viewer or stranger" }, "423": { "description": "locked by another user" }, "503": { "description": "lock capacity exhausted" } } }
    },
    "/api/maps/{id}/title": { "put": { "summary": "Rename", "responses": { "200": { "description": "updated" } } } },
    "/api/maps/{id}/description": { "put": { "summary": "Change description", "responses": { "200": { "description": "updated" } } } },
    "/api/maps/{id}/publish": { "put": { "summary": "Body true|false; owner only", "responses": { "200": { "description": "updated" }, "422": { "description": "flagged as spam, kept private" } } } },
    "/api/maps/{id}/lock": {
      "get": { "summary": "Lock status as seen by the caller", "responses": { "200": { "description": "status" } } },
      "put": { "summary": "Body true locks or refreshes, false unlocks", "responses": { "200": { "description": "locked" }, "204": { "description": "unlocked" }, "423": { "description": "locked by another user" } } },
      "delete": { "summary": "Take over editing", "responses": { "200": { "description": "lock now held by caller" } } }
    },
    "/api/maps/{id}/history": { "get": { "summary": "Revisions, newest first", "responses": { "200": { "description": "revisions" } } } },
    "/api/maps/{id}/history/{hid}": {
      "get": { "summary": "One revision with content", "responses": { "200": { "description": "revision" }, "404": { "description": "unknown revision" } } },
      "post": { "summary": "Revert to a revision; hid may be latest", "responses": { "200": { "description": "new revision" }, "404": { "description": "unknown revision" } } }
    },
    "/api/maps/{id}/collabs": {
      "get": { "summary": "Collaborators", "responses": { "200": { "description": "list" } } },
      "put": { "summary": "Replace all non-owner collaborators", "requestBody": { "content": { "application/json": { "schema": {"type":"array","items":{"$ref":"#/components/schemas/Collaborator"}}}}}, "responses": { "200": { "description": "added, updated and removed ids" }, "400": { "description": "owner entries are rejected" } } },
      "post": { "summary": "Add a collaborator or change their role", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Collaborator"}}}}, "responses": { "200": { "description": "collaboration" } } },
      "delete": { "summary": "Remove collaborator ?id=", "responses": { "204": { "description": "removed" }, "400": { "description": "owner cannot be removed" } } }
    },
    "/api/maps/{id}/starred": {
      "get": { "summary": "Starred flag of the caller", "responses": { "200": { "description": "true or false" } } },
      "put": { "summary": "Body true|false", "responses": { "204": { "description": "updated" } } }
    },
    "/api/maps/{id}/activity": { "get": { "summary": "Recent events", "responses": { "200": { "description": "events, newest first" } } } },
    "/api/locks": { "delete": { "summary": "Release every lock of the caller", "responses": { "200": { "description": "count released" } } } },
    "/api/logout": { "post": { "summary": "Revoke the access token and release locks", "responses": { "200": { "description": "logged out" } } } },
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "security": [], "responses": { "200": { "description": "metrics" } } } }
  }
}`
