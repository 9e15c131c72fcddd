// Package docs registers the swagger document served at /docs.
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
        "/": {
            "get": {
                "description": "Basic grabber information and the protocol verbs it understands",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Grabber information",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.GrabberInfoResponse"}
                    }
                }
            }
        },
        "/health": {
            "get": {
                "description": "Check if the grabber process is up and serving",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.HealthResponse"}
                    }
                }
            }
        },
        "/status": {
            "get": {
                "description": "Device, buffer and acquisition state plus command queue counters",
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Session status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.StatusResponse"}
                    }
                }
            }
        },
        "/system/protocol": {
            "get": {
                "description": "Command protocol endpoint and the verbs it accepts, for wiring clients by hand",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get protocol info",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": true}
                    }
                }
            }
        },
        "/system/stats": {
            "get": {
                "description": "Memory, garbage collector and goroutine counters of the grabber process",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system stats",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": true}
                    }
                }
            }
        },
        "/ws/frames": {
            "get": {
                "description": "Websocket stream of cap:<timestamp_ns> messages, one per published frame",
                "tags": ["frames"],
                "summary": "Frame notifications",
                "responses": {
                    "101": {
                        "description": "Switching Protocols",
                        "schema": {"type": "string"}
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.GrabberInfoResponse": {
            "type": "object",
            "properties": {
                "endpoints": {"type": "object", "additionalProperties": {"type": "string"}},
                "grabber_id": {"type": "string", "example": "grabber-1"},
                "protocol": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string", "example": "running"},
                "version": {"type": "string", "example": "1.0.0"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "grabber_id": {"type": "string", "example": "grabber-1"},
                "status": {"type": "string", "example": "healthy"},
                "uptime": {"type": "string", "example": "1h2m3s"}
            }
        },
        "handlers.QueueStatus": {
            "type": "object",
            "properties": {
                "capacity": {"type": "integer", "example": 64},
                "depth": {"type": "integer", "example": 0},
                "retries": {"type": "integer", "example": 0}
            }
        },
        "handlers.StatusResponse": {
            "type": "object",
            "properties": {
                "commands_processed": {"type": "integer", "example": 12},
                "connections": {"type": "integer", "example": 2},
                "queue": {"$ref": "#/definitions/handlers.QueueStatus"},
                "session": {"$ref": "#/definitions/models.SessionSnapshot"}
            }
        },
        "models.Geometry": {
            "type": "object",
            "properties": {
                "height": {"type": "integer"},
                "width": {"type": "integer"}
            }
        },
        "models.PixelFormat": {
            "type": "object",
            "properties": {
                "bytes_per_pixel": {"type": "integer"},
                "dtype": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "models.SessionSnapshot": {
            "type": "object",
            "properties": {
                "buffer_path": {"type": "string"},
                "device_open": {"type": "boolean"},
                "frame_rate_hz": {"type": "number"},
                "frames": {"type": "integer"},
                "geometry": {"$ref": "#/definitions/models.Geometry"},
                "grabber_id": {"type": "string"},
                "last_error": {"type": "string"},
                "pixel_format": {"$ref": "#/definitions/models.PixelFormat"},
                "serial": {"type": "string"},
                "streaming": {"type": "boolean"},
                "subscribers": {"type": "integer"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Frame Grabber API",
	Description:      "Status surface of the local frame grabber: session state, command queue counters and websocket frame notifications",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
