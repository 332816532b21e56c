// Package policy evaluates guardrails against service requests before an
// estimate is built.
//
// Guardrails are Rego modules evaluated with Open Policy Agent. Each module
// defines a deny set in its package; the input document holds the
// operation name and the requests with their effective values:
//
//	{
//	  "operation": "estimate",
//	  "requests": [
//	    {"id": "db", "kind": "Database", "template": "production",
//	     "origin": "user_supplied", "parameters": {...}, "values": {...}}
//	  ]
//	}
//
// A deny element is either a message string or an object:
//
//	deny contains violation if {
//		some r in input.requests
//		r.kind == "Storage"
//		r.values.storage_class == "Glacier"
//		violation := {"request": r.id, "message": "no Glacier in estimates", "severity": "error"}
//	}
//
// Violations with error or critical severity block the run; anything else
// is reported as a warning. Built-in guardrails can be replaced by a file
// of the same name or disabled in the configuration.
package policy
