// Package rbac authorizes billing API calls against a closed table of
// (role, resource) access levels.
//
// Roles, resources and levels are enums; there is no runtime permission
// editing. Identity is supplied by an upstream proxy in request headers and
// read by PrincipalMiddleware.
package rbac
