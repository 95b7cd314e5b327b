package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "KidGuard Pickup API",
        "description": "School pickup authorization: guardian registry and single-use pickup tokens",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": ["http"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "tags": [
        {"name": "Authentication", "description": "Login, registration and bootstrap"},
        {"name": "Admin", "description": "Account approval and student roster"},
        {"name": "Guardian", "description": "Guardian registry"},
        {"name": "Pickup", "description": "Pickup token lifecycle and history"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Awaiting approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email or phone taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/seed-admin": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Create bootstrap administrator",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Administrator exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/profile": {
            "get": {
                "summary": "Current user profile",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/users": {
            "get": {
                "tags": ["Admin"],
                "summary": "List users",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "approved", "in": "query", "type": "boolean"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/users/{id}/approve": {
            "patch": {
                "tags": ["Admin"],
                "summary": "Approve a pending guardian account",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/students": {
            "get": {
                "tags": ["Admin"],
                "summary": "List students",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Admin"],
                "summary": "Create student",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate school tag", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/guardian/link-guardian": {
            "post": {
                "tags": ["Guardian"],
                "summary": "Link a guardian to a student",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LinkGuardianRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a primary guardian", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Student or guardian not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Incompatible role", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/guardian/my-students": {
            "get": {
                "tags": ["Guardian"],
                "summary": "Students linked to the caller",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/pickup/generate-qr": {
            "post": {
                "tags": ["Pickup"],
                "summary": "Request a pickup token",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "Live token reused", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Token minted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not linked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pickup/verify-qr": {
            "post": {
                "tags": ["Pickup"],
                "summary": "Redeem a pickup token",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RedeemTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "Verified", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already used", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pickup/history": {
            "get": {
                "tags": ["Pickup"],
                "summary": "Pickup history",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/pickup/history/export": {
            "get": {
                "tags": ["Pickup"],
                "summary": "Download pickup history",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "role", "firstName", "lastName"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string", "minLength": 8},
                "role": {"type": "string", "enum": ["PRIMARY", "GUARDIAN", "SECURITY"]},
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "phone": {"type": "string"}
            }
        },
        "CreateStudentRequest": {
            "type": "object",
            "required": ["schoolIdTag", "firstName", "lastName", "grade"],
            "properties": {
                "schoolIdTag": {"type": "string"},
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "grade": {"type": "string"},
                "photoUrl": {"type": "string"}
            }
        },
        "LinkGuardianRequest": {
            "type": "object",
            "required": ["studentId", "guardianEmail"],
            "properties": {
                "studentId": {"type": "string"},
                "guardianEmail": {"type": "string", "description": "email or user id"},
                "isPrimary": {"type": "boolean"}
            }
        },
        "RequestTokenRequest": {
            "type": "object",
            "required": ["studentId"],
            "properties": {"studentId": {"type": "string"}}
        },
        "RedeemTokenRequest": {
            "type": "object",
            "required": ["qrToken"],
            "properties": {
                "qrToken": {"type": "string"},
                "pickupNotes": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
