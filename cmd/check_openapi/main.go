package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type operation struct {
	OperationID string `yaml:"operationId"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type schemaShape struct {
	Type       string
	Required   []string
	Properties map[string]propertyShape
}

type propertyShape struct {
	Type     string
	ItemsRef string
}

// requiredRoutes lists the operations each service must document.
var requiredRoutes = map[string][]string{
	"churn": {
		"GET /api/churn-data",
		"PUT /api/churn-data/{id}",
		"DELETE /api/churn-data/{id}",
		"POST /upload",
		"GET /export",
		"POST /api/chat",
	},
	"console": {
		"GET /api/view",
		"POST /api/refresh",
		"DELETE /api/records/{id}",
		"POST /api/records/delete-selected",
		"POST /api/edit/commit",
		"POST /api/uploads/submit",
		"POST /api/chat",
		"GET /api/export",
	},
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true, "patch": true, "head": true, "options": true,
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <console-openapi.yaml> <churn-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func run(consolePath, churnPath string) error {
	consoleDoc, err := loadDoc(consolePath)
	if err != nil {
		return err
	}
	churnDoc, err := loadDoc(churnPath)
	if err != nil {
		return err
	}
	if err := checkRoutes("console", consoleDoc); err != nil {
		return err
	}
	if err := checkRoutes("churn", churnDoc); err != nil {
		return err
	}

	consoleErr, err := getSchema(consoleDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	churnErr, err := getSchema(churnDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("churn: %w", err)
	}
	if err := validateErrorResponse("console", consoleErr); err != nil {
		return err
	}
	if err := validateErrorResponse("churn", churnErr); err != nil {
		return err
	}
	return ensureSameShape("ErrorResponse", shapeFromSchema(consoleErr), shapeFromSchema(churnErr))
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// checkRoutes verifies every required route is documented and that every
// documented operation carries an operationId.
func checkRoutes(scope string, doc openAPIDoc) error {
	documented := make(map[string]bool)
	for path, ops := range doc.Paths {
		for method, node := range ops {
			if !httpMethods[strings.ToLower(method)] {
				continue
			}
			key := strings.ToUpper(method) + " " + path
			var op operation
			if err := node.Decode(&op); err != nil {
				return fmt.Errorf("%s %s: %w", scope, key, err)
			}
			if strings.TrimSpace(op.OperationID) == "" {
				return fmt.Errorf("%s %s has no operationId", scope, key)
			}
			documented[key] = true
		}
	}
	var missing []string
	for _, route := range requiredRoutes[scope] {
		if !documented[route] {
			missing = append(missing, route)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s openapi doc is missing routes: %s", scope, strings.Join(missing, ", "))
	}
	return nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(scope string, s schema) error {
	if s.Type != "object" {
		return fmt.Errorf("%s ErrorResponse must be object", scope)
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("%s ErrorResponse.required must include %q", scope, field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("%s ErrorResponse.%s must be string", scope, field)
		}
	}
	return nil
}

func shapeFromSchema(s schema) schemaShape {
	out := schemaShape{
		Type:       s.Type,
		Required:   append([]string(nil), s.Required...),
		Properties: make(map[string]propertyShape, len(s.Properties)),
	}
	sort.Strings(out.Required)
	for name, prop := range s.Properties {
		shape := propertyShape{Type: prop.Type}
		if prop.Items != nil {
			shape.ItemsRef = strings.TrimSpace(prop.Items.Ref)
		}
		out.Properties[name] = shape
	}
	return out
}

func ensureSameShape(name string, left, right schemaShape) error {
	if left.Type != right.Type {
		return fmt.Errorf("%s type mismatch: %q vs %q", name, left.Type, right.Type)
	}
	if strings.Join(left.Required, ",") != strings.Join(right.Required, ",") {
		return fmt.Errorf("%s required mismatch: %v vs %v", name, left.Required, right.Required)
	}
	if len(left.Properties) != len(right.Properties) {
		return fmt.Errorf("%s property count mismatch: %d vs %d", name, len(left.Properties), len(right.Properties))
	}
	for key, leftProp := range left.Properties {
		rightProp, ok := right.Properties[key]
		if !ok {
			return fmt.Errorf("%s missing property %q in churn schema", name, key)
		}
		if leftProp != rightProp {
			return fmt.Errorf("%s property %q mismatch: %+v vs %+v", name, key, leftProp, rightProp)
		}
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
