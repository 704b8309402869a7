// Package docs registers the OpenAPI document served by gin-swagger.
// Regenerate with `swag init -g cmd/server/main.go`.
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
        "/auth/signup": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Create an account",
                "operationId": "signup",
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/handlers.CreateEvaluationResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.CreateEvaluationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Open a session",
                "operationId": "login",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current user",
                "operationId": "me",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/auth/api-keys": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "List API keys",
                "operationId": "listAPIKeys",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Create an API key",
                "operationId": "createAPIKey",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/auth/api-keys/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Deactivate an API key",
                "operationId": "deactivateAPIKey",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/evaluations": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["evaluations"],
                "summary": "List evaluations",
                "operationId": "listEvaluations",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "country", "in": "query"},
                    {"type": "string", "name": "visaType", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "skip", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}
            },
            "post": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["evaluations"],
                "summary": "Evaluate visa documents",
                "operationId": "createEvaluation",
                "parameters": [
                    {"type": "string", "name": "country", "in": "formData", "required": true},
                    {"type": "string", "name": "visaType", "in": "formData", "required": true},
                    {"type": "file", "name": "documents", "in": "formData", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Payload Too Large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/evaluations/{id}": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["evaluations"],
                "summary": "Get an evaluation",
                "operationId": "getEvaluation",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            },
            "delete": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "tags": ["evaluations"],
                "summary": "Delete an evaluation",
                "operationId": "deleteEvaluation",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/visa-config": {
            "get": {
                "produces": ["application/json"],
                "tags": ["visa-config"],
                "summary": "List supported countries and visa types",
                "operationId": "listVisaConfig",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/visa-config/{country}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["visa-config"],
                "summary": "Visa types of one country",
                "operationId": "getCountryVisaConfig",
                "parameters": [{"type": "string", "name": "country", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/visa-config/{country}/{visaType}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["visa-config"],
                "summary": "One visa type",
                "operationId": "getVisaTypeConfig",
                "parameters": [
                    {"type": "string", "name": "country", "in": "path", "required": true},
                    {"type": "string", "name": "visaType", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/subscription/plans": {
            "get": {
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "List plans",
                "operationId": "listPlans",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/subscription/status": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Subscription status and quota",
                "operationId": "subscriptionStatus",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/subscription/usage": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Usage in the current period",
                "operationId": "subscriptionUsage",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/subscription/cancel": {
            "post": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Cancel at period end",
                "operationId": "cancelSubscription",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/subscription/create-checkout": {
            "post": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Start a hosted Stripe checkout",
                "operationId": "createCheckout",
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CheckoutRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/billing.Session"}},
                    "400": {"description": "Free plan or invalid redirect", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown plan", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Billing not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscription/billing-portal": {
            "post": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Open the Stripe customer portal",
                "operationId": "billingPortal",
                "parameters": [
                    {"name": "body", "in": "body", "required": false, "schema": {"$ref": "#/definitions/handlers.PortalRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/billing.Session"}},
                    "400": {"description": "No billing account yet", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/analytics/usage": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["analytics"],
                "summary": "API usage records",
                "operationId": "usageAnalytics",
                "parameters": [
                    {"type": "string", "name": "from", "in": "query"},
                    {"type": "string", "name": "to", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/analytics/summary": {
            "get": {
                "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["analytics"],
                "summary": "Usage summary",
                "operationId": "usageSummary",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/analytics/api-keys/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["analytics"],
                "summary": "Usage of one API key",
                "operationId": "apiKeyUsage",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/webhook/stripe": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["subscription"],
                "summary": "Stripe webhook",
                "operationId": "stripeWebhook",
                "parameters": [{"type": "string", "name": "Stripe-Signature", "in": "header", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        }
    },
    "definitions": {
        "billing.Session": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string", "example": "cs_test_123"},
                "url": {"type": "string", "example": "https://checkout.stripe.com/c/pay/cs_test_123"}
            }
        },
        "handlers.CheckoutRequest": {
            "type": "object",
            "required": ["planId"],
            "properties": {
                "planId": {"type": "string", "example": "pro_monthly"},
                "successUrl": {"type": "string"},
                "cancelUrl": {"type": "string"}
            }
        },
        "handlers.PortalRequest": {
            "type": "object",
            "properties": {
                "returnUrl": {"type": "string"}
            }
        },
        "handlers.CreateEvaluationResponse": {
            "type": "object",
            "properties": {
                "evaluationId": {"type": "string", "format": "uuid"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "country": {"type": "string", "example": "DE"},
                "visaType": {"type": "string", "example": "EU_BLUE_CARD"},
                "documents": {"type": "array", "items": {"type": "object"}},
                "result": {
                    "type": "object",
                    "properties": {
                        "isMalicious": {"type": "boolean"},
                        "maliciousReason": {"type": "string"},
                        "score": {"type": "integer", "minimum": 0, "maximum": 85},
                        "summary": {"type": "string"},
                        "checkpoints": {"type": "array", "items": {"type": "object"}},
                        "strengths": {"type": "array", "items": {"type": "string"}},
                        "weaknesses": {"type": "array", "items": {"type": "string"}},
                        "suggestions": {"type": "array", "items": {"type": "string"}}
                    }
                },
                "createdAt": {"type": "string", "format": "date-time"},
                "processedAt": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.QuotaInfo": {
            "type": "object",
            "properties": {
                "limit": {"type": "integer"},
                "used": {"type": "integer"},
                "remaining": {"type": "integer"},
                "plan": {"type": "string"},
                "periodEnd": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": false},
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "validation_error"},
                "message": {"type": "string"},
                "quota": {"$ref": "#/definitions/handlers.QuotaInfo"},
                "evaluationId": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"},
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Visa Evaluation API",
	Description:      "Uploads visa application documents, analyses them with an LLM and returns a scored evaluation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
