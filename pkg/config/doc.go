// Package config loads calcpilot's YAML configuration.
//
// A configuration file only needs the keys it changes; everything else keeps
// its default. Unknown keys are an error so typos do not go unnoticed.
//
//	calculator:
//	  base_url: https://calculator.aws/
//	  region: us-east-1
//	browser:
//	  headless: true
//	engine:
//	  orchestrator:
//	    retry:
//	      max_attempts: 3
//	    service_timeout: 2m
//	  pacing:
//	    actions_per_second: 4
//	    burst: 2
//	batch:
//	  parallel: 2
//	store:
//	  enabled: true
//	templates:
//	  dir: ./templates
//	  watch: true
//	policy:
//	  dir: ./policies
//	  disable: [single-region]
//
// The session start URL and ready selector follow the calculator settings
// unless set explicitly under engine.session.
package config
