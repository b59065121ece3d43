// Package policy loads the gateway route table: for each route, which
// stages guard it and which handler serves it.
//
// # Route Table
//
//	routes:
//	  - name: reports.team
//	    method: GET
//	    path: /api/teams/{owner}/reports
//	    handler: echo
//	    roles: [REPORTS, "@ADMIN_ACCESS"]
//	    permissions: [reports:view]
//	    owner_param: owner
//	  - name: payments.create
//	    method: POST
//	    path: /api/payments
//	    handler: echo
//	    api_key: true
//	    key_permissions: [payments:create]
//
// An omitted roles or permissions key means no guard of that kind; an empty
// sequence still requires a valid identity. "@NAME" expands a catalog role
// group. A scalar where a sequence is expected, an unknown role or
// permission, or an owner_param missing from the path fails the load with a
// *auth.ConfigurationError.
//
// # Usage
//
//	table, err := policy.Load(path, registry.Current())
//	for _, route := range table.Routes {
//		chain, err := route.Chain(policy.Stages{Authorizer: authz, APIKeys: keys})
//		router.Handle(route.Path, chain(handlers[route.Handler])).Methods(route.Method)
//	}
package policy
