// Package docs serves the OpenAPI document for the local status API through swag.
// Keep it in step with the godoc annotations in internal/transport/http/handler.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/jobs/{id}/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Recorded status history of a job",
                "parameters": [
                    {"type": "string", "description": "job id", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "max rows (default 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/httptransport.statusResp"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Last known status of a job",
                "parameters": [
                    {"type": "string", "description": "job id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.statusResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/subscriptions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "List open subscriptions",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/httptransport.subscriptionResp"}}}
                }
            },
            "post": {
                "description": "Opens (or shares) the job's status stream. The first subscriber for a job opens the connection.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "Subscribe to a job's live status",
                "parameters": [
                    {"description": "job to watch", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.subscribeDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.subscribeResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/subscriptions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "Get the current projection of a subscription",
                "parameters": [
                    {"type": "string", "description": "subscription id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.subscriptionResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "delete": {
                "description": "The job's connection closes when its last subscription is dropped. urgent=true notifies the backend immediately instead of batching.",
                "tags": ["subscriptions"],
                "summary": "Drop a subscription",
                "parameters": [
                    {"type": "string", "description": "subscription id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "notify the backend immediately", "name": "urgent", "in": "query"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/visibility": {
            "put": {
                "description": "Hidden pages defer reconnects; becoming visible reconnects dropped streams.",
                "consumes": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "Report page visibility",
                "parameters": [
                    {"description": "visibility", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.visibilityDTO"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "httptransport.apiError": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "httptransport.statusResp": {
            "type": "object",
            "properties": {
                "errorMessage": {"type": "string"},
                "jobId": {"type": "string"},
                "occurredAt": {"type": "string"},
                "processingStep": {"type": "string"},
                "status": {"type": "string"},
                "text": {"type": "string"},
                "videoUrl": {"type": "string"}
            }
        },
        "httptransport.subscribeDTO": {
            "type": "object",
            "properties": {"jobId": {"type": "string"}}
        },
        "httptransport.subscribeResp": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "jobId": {"type": "string"}}
        },
        "httptransport.subscriptionResp": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "connected": {"type": "boolean"},
                "error": {"type": "string"},
                "id": {"type": "string"},
                "jobId": {"type": "string"},
                "processingStep": {"type": "string"},
                "status": {"type": "string"},
                "text": {"type": "string"},
                "videoUrl": {"type": "string"}
            }
        },
        "httptransport.visibilityDTO": {
            "type": "object",
            "properties": {"visible": {"type": "boolean"}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "statuswatch API",
	Description:      "Local bridge to live video job status streams.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
