package policy

// BuiltinPolicies returns the guardrails that ship with calcpilot.
func BuiltinPolicies() []Policy {
	return []Policy{
		fleetSizePolicy(),
		singleRegionPolicy(),
		databaseAvailabilityPolicy(),
	}
}

// fleetSizePolicy blocks counts that are almost certainly typos.
func fleetSizePolicy() Policy {
	return Policy{
		Name:        "fleet-size",
		Description: "Blocks instance, node and load balancer counts above sane limits",
		Severity:    SeverityError,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package calcpilot.guardrails.fleet_size

count_field := {"Compute": "quantity", "Database": "quantity", "LoadBalancer": "count"}

limit := {"Compute": 100, "Database": 20, "LoadBalancer": 50}

deny contains violation if {
	some r in input.requests
	field := count_field[r.kind]
	n := to_number(r.values[field])
	n > limit[r.kind]
	violation := {
		"request": r.id,
		"message": sprintf("%s %s is %v, above the limit of %v", [r.id, field, n, limit[r.kind]]),
	}
}`,
	}
}

// singleRegionPolicy warns when one estimate mixes regions.
func singleRegionPolicy() Policy {
	return Policy{
		Name:        "single-region",
		Description: "Warns when the requests of one estimate name different regions",
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package calcpilot.guardrails.single_region

regions contains region if {
	some r in input.requests
	region := object.get(r.values, "region", "")
	region != ""
}

deny contains msg if {
	count(regions) > 1
	msg := sprintf("requests span %d regions: %s", [count(regions), concat(", ", sort(regions))])
}`,
	}
}

// databaseAvailabilityPolicy warns about production sized databases
// without a standby.
func databaseAvailabilityPolicy() Policy {
	return Policy{
		Name:        "database-availability",
		Description: "Warns about memory optimized database classes in a Single-AZ deployment",
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package calcpilot.guardrails.database_availability

deny contains violation if {
	some r in input.requests
	r.kind == "Database"
	class := object.get(r.values, "instance_class", "")
	startswith(class, "db.r")
	object.get(r.values, "deployment", "Single-AZ") == "Single-AZ"
	violation := {
		"request": r.id,
		"message": sprintf("%s uses %s in a Single-AZ deployment", [r.id, class]),
	}
}`,
	}
}
