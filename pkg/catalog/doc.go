// Package catalog holds the calculator procedures for every service kind.
//
// Each kind is a Configurator backed by a field table: the request parameter,
// the input's accessible label, whether it is a text input or a dropdown, its
// default and a validator rule. Missing values are taken from the request's
// defaults, then from the catalog; back-filled fields are reported.
//
// Validation happens before any UI action, so an invalid request never
// touches the browser.
package catalog
