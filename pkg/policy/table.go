package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
)

//go:embed routes.yaml
var defaultRoutes []byte

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Route is one validated route table entry. A nil Roles, Permissions or
// KeyPermissions slice means no guard of that kind.
type Route struct {
	Name           string
	Method         string
	Path           string
	Handler        string
	APIKey         bool
	Roles          []auth.Role
	Permissions    []auth.Permission
	KeyPermissions []auth.Permission
	OwnerParam     string
}

// Table is an ordered list of routes
type Table struct {
	Routes []Route
}

// Handlers returns the distinct handler names the table references
func (t *Table) Handlers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Routes {
		if !seen[r.Handler] {
			seen[r.Handler] = true
			out = append(out, r.Handler)
		}
	}
	return out
}

type tableFile struct {
	Routes []routeSpec `yaml:"routes"`
}

type routeSpec struct {
	Name           string    `yaml:"name"`
	Method         string    `yaml:"method"`
	Path           string    `yaml:"path"`
	Handler        string    `yaml:"handler"`
	APIKey         bool      `yaml:"api_key"`
	Roles          yaml.Node `yaml:"roles"`
	Permissions    yaml.Node `yaml:"permissions"`
	KeyPermissions yaml.Node `yaml:"key_permissions"`
	OwnerParam     string    `yaml:"owner_param"`
}

// Default returns the built-in route table validated against catalog
func Default(catalog *auth.Catalog) (*Table, error) {
	return Parse(defaultRoutes, catalog)
}

// Load reads a route table file and validates it against catalog
func Load(path string, catalog *auth.Catalog) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return Parse(data, catalog)
}

// Parse decodes and validates a route table
func Parse(data []byte, catalog *auth.Catalog) (*Table, error) {
	if catalog == nil {
		return nil, auth.NewConfigurationError("route table requires a catalog")
	}

	var f tableFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, auth.NewConfigurationError(fmt.Sprintf("invalid route table YAML: %v", err))
	}
	if len(f.Routes) == 0 {
		return nil, auth.NewConfigurationError("route table declares no routes")
	}

	table := &Table{Routes: make([]Route, 0, len(f.Routes))}
	names := make(map[string]bool, len(f.Routes))
	endpoints := make(map[string]bool, len(f.Routes))

	for i, spec := range f.Routes {
		route, err := buildRoute(spec, catalog)
		if err != nil {
			return nil, auth.NewConfigurationError(fmt.Sprintf("routes[%d]: %s", i, err))
		}

		if names[route.Name] {
			return nil, auth.NewConfigurationError(fmt.Sprintf("routes[%d]: duplicate route name %q", i, route.Name))
		}
		names[route.Name] = true

		endpoint := route.Method + " " + route.Path
		if endpoints[endpoint] {
			return nil, auth.NewConfigurationError(fmt.Sprintf("routes[%d]: duplicate route %s", i, endpoint))
		}
		endpoints[endpoint] = true

		table.Routes = append(table.Routes, route)
	}

	return table, nil
}

func buildRoute(spec routeSpec, catalog *auth.Catalog) (Route, error) {
	route := Route{
		Name:       strings.TrimSpace(spec.Name),
		Method:     strings.ToUpper(strings.TrimSpace(spec.Method)),
		Path:       strings.TrimSpace(spec.Path),
		Handler:    strings.TrimSpace(spec.Handler),
		APIKey:     spec.APIKey,
		OwnerParam: strings.TrimSpace(spec.OwnerParam),
	}

	if !allowedMethods[route.Method] {
		return route, fmt.Errorf("unsupported method %q", spec.Method)
	}
	if !strings.HasPrefix(route.Path, "/") {
		return route, fmt.Errorf("path %q must start with /", spec.Path)
	}
	if route.Name == "" {
		route.Name = route.Method + " " + route.Path
	}
	if route.Handler == "" {
		return route, fmt.Errorf("%s: handler is required", route.Name)
	}

	roles, err := sequence(&spec.Roles, "roles")
	if err != nil {
		return route, fmt.Errorf("%s: %w", route.Name, err)
	}
	if roles != nil {
		if route.Roles, err = resolveRoles(roles, catalog); err != nil {
			return route, fmt.Errorf("%s: %w", route.Name, err)
		}
	}

	perms, err := sequence(&spec.Permissions, "permissions")
	if err != nil {
		return route, fmt.Errorf("%s: %w", route.Name, err)
	}
	if perms != nil {
		if route.Permissions, err = resolvePermissions(perms, catalog); err != nil {
			return route, fmt.Errorf("%s: %w", route.Name, err)
		}
	}

	keyPerms, err := sequence(&spec.KeyPermissions, "key_permissions")
	if err != nil {
		return route, fmt.Errorf("%s: %w", route.Name, err)
	}
	if keyPerms != nil {
		if !route.APIKey {
			return route, fmt.Errorf("%s: key_permissions requires api_key: true", route.Name)
		}
		if route.KeyPermissions, err = resolvePermissions(keyPerms, catalog); err != nil {
			return route, fmt.Errorf("%s: %w", route.Name, err)
		}
	}

	if route.OwnerParam != "" && !hasPathVar(route.Path, route.OwnerParam) {
		return route, fmt.Errorf("%s: owner_param %q is not a variable of path %s", route.Name, route.OwnerParam, route.Path)
	}

	return route, nil
}

// sequence reads a YAML sequence of strings. An absent or null key returns
// nil; an empty sequence returns an empty, non-nil slice.
func sequence(node *yaml.Node, field string) ([]string, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%s must be a sequence of strings ([]string), got %s at line %d", field, kindName(node.Kind), node.Line)
	}

	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s must be a sequence of strings ([]string), got a nested %s at line %d", field, kindName(item.Kind), item.Line)
		}
		out = append(out, strings.TrimSpace(item.Value))
	}
	return out, nil
}

func resolveRoles(names []string, catalog *auth.Catalog) ([]auth.Role, error) {
	out := make([]auth.Role, 0, len(names))
	seen := make(map[auth.Role]bool)
	add := func(r auth.Role) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}

	for _, name := range names {
		if group, ok := strings.CutPrefix(name, "@"); ok {
			members, found := catalog.Group(group)
			if !found {
				return nil, fmt.Errorf("unknown role group %q", group)
			}
			for _, m := range members {
				add(m)
			}
			continue
		}

		role := auth.Role(name).Normalize()
		if !catalog.HasRole(role) {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		add(role)
	}
	return out, nil
}

func resolvePermissions(tokens []string, catalog *auth.Catalog) ([]auth.Permission, error) {
	out := make([]auth.Permission, 0, len(tokens))
	for _, token := range tokens {
		p := auth.Permission(token)
		if !catalog.IsPermission(p) {
			return nil, fmt.Errorf("unknown permission %q", token)
		}
		out = append(out, p)
	}
	return out, nil
}

func hasPathVar(path, name string) bool {
	return strings.Contains(path, "{"+name+"}") || strings.Contains(path, "{"+name+":")
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// Stages are the building blocks a route chain is assembled from
type Stages struct {
	Authorizer *middleware.Authorizer
	APIKeys    *middleware.APIKeyMiddleware
}

// Chain builds the route's stages in pipeline order: API key validation,
// key permissions, roles, permissions, owner.
func (r Route) Chain(stages Stages) (func(http.Handler) http.Handler, error) {
	var guards []middleware.Guard

	if r.APIKey {
		if stages.APIKeys == nil {
			return nil, auth.NewConfigurationError(fmt.Sprintf("route %s requires API key validation but none is configured", r.Name))
		}
		guards = append(guards, stages.APIKeys.Handler)
	}

	needsAuthorizer := r.KeyPermissions != nil || r.Roles != nil || r.Permissions != nil || r.OwnerParam != ""
	if needsAuthorizer && stages.Authorizer == nil {
		return nil, auth.NewConfigurationError(fmt.Sprintf("route %s requires an authorizer", r.Name))
	}

	if r.KeyPermissions != nil {
		g, err := stages.Authorizer.RequireKeyPermissions(r.KeyPermissions)
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}
	if r.Roles != nil {
		g, err := stages.Authorizer.RequireRoles(r.Roles)
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}
	if r.Permissions != nil {
		g, err := stages.Authorizer.RequirePermissions(r.Permissions)
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}
	if r.OwnerParam != "" {
		g, err := stages.Authorizer.RequireOwner(middleware.PathOwner(r.OwnerParam))
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}

	return func(final http.Handler) http.Handler {
		for i := len(guards) - 1; i >= 0; i-- {
			final = guards[i](final)
		}
		return final
	}, nil
}
