// rulectl validates, tests and evaluates YAML rule bundles without a database.
//
// Usage:
//
//	# Check a bundle for structural problems
//	rulectl validate rules.yaml
//
//	# Run the bundle's suites, synthesizing fixtures where none are declared
//	rulectl test rules.yaml
//
//	# Evaluate the active rules of a type against a context
//	rulectl eval rules.yaml --type COVERAGE --context '{"data": {"claimAmount": 200}}'
package main

func main() {
	Execute()
}
