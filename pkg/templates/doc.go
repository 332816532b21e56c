// Package templates provides predefined service configurations and turns
// request files into engine service requests.
//
// Per-service templates (default, web_server, postgresql, backup, ...) hold
// default values for one service kind. Infrastructure templates such as
// basic_web_app list several services at once. Template values become a
// request's defaults; parameters given in the request file always win.
//
// The built-in templates can be extended or overridden with YAML files in a
// directory, which a Loader can watch for changes.
package templates
