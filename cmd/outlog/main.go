// outlog records the outgoing HTTP calls of an application and keeps the
// records under a retention policy.
//
// Usage:
//
//	# Delete records older than max_age days
//	outlog prune --config config.yaml
//
//	# Run the prune schedule, metrics and the admin API
//	outlog serve --config config.yaml
//
//	# Force saving for the next reset_db_save_after minutes
//	outlog policy set --save-to-db yes
package main

func main() {
	Execute()
}
