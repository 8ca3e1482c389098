// Package openapi generates the OpenAPI document describing Vigil's HTTP
// surface: the credential endpoints, key management, and the probe endpoints
// the integrity auditor consumes.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI 3.1 document for a Vigil instance.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Vigil API",
			Description: "Credential validation and service integrity endpoints served by Vigil.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": objectSchema(openapi3.Schemas{
					"code":    typeSchema("integer"),
					"message": typeSchema("string"),
					"context": typeSchema("object"),
				}),
			},
		},
	}
	doc.Components.Schemas["ValidationResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"valid":       typeSchema("boolean"),
				"auth_type":   typeSchema("string"),
				"user":        typeSchema("object"),
				"permissions": arraySchema("string"),
				"rate_limit":  typeSchema("integer"),
				"usage_count": typeSchema("integer"),
				"expires_at":  typeSchema("integer"),
				"error":       typeSchema("string"),
			},
		},
	}
	doc.Components.Schemas["APIKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          typeSchema("integer"),
				"user_id":     typeSchema("integer"),
				"name":        typeSchema("string"),
				"key_prefix":  typeSchema("string"),
				"permissions": arraySchema("string"),
				"rate_limit":  typeSchema("integer"),
				"usage_count": typeSchema("integer"),
				"is_active":   typeSchema("boolean"),
				"expires_at":  typeSchema("string"),
				"created_at":  typeSchema("string"),
			},
		},
	}
	doc.Components.Schemas["LoginResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"success":       typeSchema("boolean"),
				"access_token":  typeSchema("string"),
				"refresh_token": typeSchema("string"),
				"token_type":    typeSchema("string"),
				"expires_in":    typeSchema("integer"),
				"user":          typeSchema("object"),
			},
		},
	}

	doc.Paths = openapi3.NewPaths()
	addAuthPaths(doc)
	addKeyPaths(doc)
	addProbePaths(doc)
	return doc
}

func addAuthPaths(doc *openapi3.T) {
	doc.Paths.Set("/auth/validate", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "validateCredential",
			Summary:     "Validate an API key or bearer token",
			Tags:        []string{"auth"},
			Security: &openapi3.SecurityRequirements{
				{"apiKey": {}},
				{"bearerAuth": {}},
			},
			Responses: responses(map[string]string{
				"200": "ValidationResponse",
				"401": "ValidationResponse",
			}),
		},
	})
	doc.Paths.Set("/auth/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "login",
			Summary:     "Exchange email/password for an access and refresh token pair",
			Tags:        []string{"auth"},
			RequestBody: jsonRequestBody(openapi3.Schemas{
				"email":    typeSchema("string"),
				"password": typeSchema("string"),
			}, []string{"email", "password"}),
			Responses: responses(map[string]string{
				"200": "LoginResponse",
				"401": "ErrorResponse",
			}),
		},
	})
	doc.Paths.Set("/auth/refresh", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "refreshToken",
			Summary:     "Exchange a refresh token for a new access token",
			Tags:        []string{"auth"},
			Security:    &openapi3.SecurityRequirements{{"bearerAuth": {}}},
			Responses: responses(map[string]string{
				"200": "LoginResponse",
				"401": "ErrorResponse",
			}),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	security := &openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listKeys",
			Summary:     "List API keys",
			Tags:        []string{"keys"},
			Security:    security,
			Parameters: openapi3.Parameters{
				queryParam("user_id", "integer"),
				queryParam("active_only", "boolean"),
			},
			Responses: responses(map[string]string{"200": ""}),
		},
		Post: &openapi3.Operation{
			OperationID: "createKey",
			Summary:     "Generate a new API key (secret shown once)",
			Tags:        []string{"keys"},
			Security:    security,
			RequestBody: jsonRequestBody(openapi3.Schemas{
				"name":        typeSchema("string"),
				"user_id":     typeSchema("integer"),
				"permissions": arraySchema("string"),
				"rate_limit":  typeSchema("integer"),
				"expires_at":  typeSchema("string"),
			}, []string{"name"}),
			Responses: responses(map[string]string{
				"201": "",
				"400": "ErrorResponse",
			}),
		},
	})
	doc.Paths.Set("/api/v1/keys/{keyID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{pathParam("keyID", "integer")},
		Get: &openapi3.Operation{
			OperationID: "getKey",
			Summary:     "Fetch one API key record",
			Tags:        []string{"keys"},
			Security:    security,
			Responses: responses(map[string]string{
				"200": "APIKey",
				"404": "ErrorResponse",
			}),
		},
		Delete: &openapi3.Operation{
			OperationID: "revokeKey",
			Summary:     "Revoke an API key permanently",
			Tags:        []string{"keys"},
			Security:    security,
			Responses: responses(map[string]string{
				"200": "",
				"404": "ErrorResponse",
			}),
		},
	})
}

func addProbePaths(doc *openapi3.T) {
	probe := func(id, summary string) *openapi3.PathItem {
		return &openapi3.PathItem{
			Get: &openapi3.Operation{
				OperationID: id,
				Summary:     summary,
				Tags:        []string{"probe"},
				Responses:   responses(map[string]string{"200": ""}),
			},
		}
	}
	doc.Paths.Set("/health", probe("health", "Liveness status"))
	doc.Paths.Set("/version", probe("version", "Version and environment"))
	doc.Paths.Set("/status/dependencies", probe("dependencyStatus", "Backing dependency statuses"))
}

func typeSchema(t string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{t}}}
}

func arraySchema(itemType string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: typeSchema(itemType),
	}}
}

func objectSchema(props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
	}}
}

func queryParam(name, schemaType string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:   name,
		In:     "query",
		Schema: typeSchema(schemaType),
	}}
}

func pathParam(name, schemaType string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     name,
		In:       "path",
		Required: true,
		Schema:   typeSchema(schemaType),
	}}
}

func jsonRequestBody(props openapi3.Schemas, required []string) *openapi3.RequestBodyRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content: openapi3.Content{
			"application/json": &openapi3.MediaType{
				Schema: &openapi3.SchemaRef{Value: schema},
			},
		},
	}}
}

// responses maps status codes to component schema names; "" means a response
// without a declared schema.
func responses(codes map[string]string) *openapi3.Responses {
	out := openapi3.NewResponses()
	for code, schemaName := range codes {
		desc := "Success"
		if code[0] == '4' || code[0] == '5' {
			desc = "Error"
		}
		out.Set(code, describedResponse(desc, schemaName))
	}
	return out
}

func describedResponse(description, schemaName string) *openapi3.ResponseRef {
	resp := &openapi3.Response{Description: &description}
	if schemaName != "" {
		resp.Content = openapi3.Content{
			"application/json": &openapi3.MediaType{
				Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName},
			},
		}
	}
	return &openapi3.ResponseRef{Value: resp}
}
