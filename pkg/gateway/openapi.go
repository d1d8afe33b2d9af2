package gateway

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const catchAllPath = "/{path+}"

// DefaultProxyMethods are the operations emitted on the catch-all path.
var DefaultProxyMethods = []string{"get"}

type openAPIDocument struct {
	OpenAPI string                                 `yaml:"openapi"`
	Info    openAPIInfo                            `yaml:"info"`
	Paths   map[string]map[string]openAPIOperation `yaml:"paths"`
}

type openAPIInfo struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

type openAPIOperation struct {
	Integration httpIntegration    `yaml:"x-yc-apigateway-integration"`
	Parameters  []openAPIParameter `yaml:"parameters"`
}

// httpIntegration is the x-yc-apigateway-integration extension of type http.
type httpIntegration struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type openAPIParameter struct {
	Name     string        `yaml:"name"`
	In       string        `yaml:"in"`
	Required bool          `yaml:"required"`
	Schema   openAPISchema `yaml:"schema"`
}

type openAPISchema struct {
	Type string `yaml:"type"`
}

// RenderOpenAPISpec renders the OpenAPI 3.0 document for a gateway that
// forwards every path under "/" to baseURL with a fixed Host header. An empty
// methods list uses DefaultProxyMethods.
func RenderOpenAPISpec(baseURL, host string, methods []string) (string, error) {
	if len(methods) == 0 {
		methods = DefaultProxyMethods
	}
	op := openAPIOperation{
		Integration: httpIntegration{
			Type: "http",
			URL:  baseURL + "/{path}",
			Headers: map[string]string{
				"Accept":          "*/*",
				"Accept-Encoding": "gzip, deflate",
				"Host":            host,
				"Connection":      "keep-alive",
			},
		},
		Parameters: []openAPIParameter{{
			Name:     "path",
			In:       "path",
			Required: false,
			Schema:   openAPISchema{Type: "string"},
		}},
	}
	operations := make(map[string]openAPIOperation, len(methods))
	for _, m := range methods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		operations[m] = op
	}
	doc := openAPIDocument{
		OpenAPI: "3.0.0",
		Info:    openAPIInfo{Title: host + " proxy", Version: "1.0.0"},
		Paths:   map[string]map[string]openAPIOperation{catchAllPath: operations},
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("render openapi spec for %s: %w", host, err)
	}
	return string(out), nil
}
