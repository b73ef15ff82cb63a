// Package docs registers the OpenAPI document served under /swagger/.
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
        "/v1/polls": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["consensus-engine"],
                "summary": "Create a poll for a hangout",
                "parameters": [
                    {"type": "string", "description": "Caller user id", "name": "X-User-Id", "in": "header", "required": true},
                    {"description": "Poll payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.CreatePollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.PollResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["consensus-engine"],
                "summary": "Read poll state",
                "parameters": [
                    {"type": "string", "description": "Viewer user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Poll id", "name": "poll_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.PollStateResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/votes": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["consensus-engine"],
                "summary": "Cast, toggle or withdraw a vote",
                "parameters": [
                    {"type": "string", "description": "Caller user id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "description": "Idempotency key", "name": "Idempotency-Key", "in": "header"},
                    {"type": "string", "description": "Poll id", "name": "poll_id", "in": "path", "required": true},
                    {"description": "Vote payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.CastVoteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.CastVoteResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "http.ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "http.CastVoteRequest": {
            "type": "object",
            "properties": {
                "option_id": {"type": "string"},
                "mode": {"type": "string", "enum": ["add", "toggle", "remove", "preferred", "abstain"]}
            }
        },
        "http.CreatePollRequest": {
            "type": "object",
            "properties": {
                "hangout_id": {"type": "string"},
                "config": {"type": "object"},
                "options": {"type": "array", "items": {"type": "object"}},
                "publish": {"type": "boolean"}
            }
        },
        "http.PollResponse": {"type": "object"},
        "http.CastVoteResponse": {
            "type": "object",
            "properties": {
                "vote_cast": {"type": "boolean"},
                "vote_active": {"type": "boolean"},
                "implicit_vote_created": {"type": "boolean"},
                "finalized": {"type": "boolean"},
                "winning_option": {"type": "object"},
                "poll_status": {"type": "string"},
                "progress": {"type": "object"},
                "replayed": {"type": "boolean"}
            }
        },
        "http.PollStateResponse": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Hangout Consensus Engine API",
	Description:      "Voting, consensus evaluation and plan finalization for hangout polls.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
