// Package docs registers the generated OpenAPI document with the swagger
// handler. Regenerate with `swag init -g cmd/api/main.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/conversions": {
            "post": {
                "tags": ["conversions"],
                "summary": "Start a PDF to EPUB conversion",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"},
                    "429": {"description": "Too Many Requests"}
                }
            }
        },
        "/conversions/{id}": {
            "get": {
                "tags": ["conversions"],
                "summary": "Get conversion job by id",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            },
            "delete": {
                "tags": ["conversions"],
                "summary": "Cancel a running conversion",
                "responses": {
                    "202": {"description": "Accepted"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/conversions/{id}/progress": {
            "get": {
                "tags": ["conversions"],
                "summary": "Poll conversion progress",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/conversions/{id}/result": {
            "get": {
                "tags": ["conversions"],
                "summary": "Get the packaged EPUB reference",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/usage": {
            "get": {
                "tags": ["usage"],
                "summary": "Get the owner's usage for the current billing period",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "EPUB Converter Service API",
	Description:      "PDF to EPUB conversion pipeline with progress polling and usage quotas.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
