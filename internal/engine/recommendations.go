package engine

import "threatlens/pkg/models"

var recommendations = map[string][]string{
	models.CategoryMalware: {
		"Isolate the affected host from the network",
		"Capture a memory image before terminating the process",
		"Run a full scan and review recent process execution",
	},
	models.CategoryRansomware: {
		"Disconnect the host from the network immediately",
		"Verify backups are intact and offline",
		"Preserve the encrypted samples and ransom note for analysis",
	},
	models.CategoryTrojan: {
		"Quarantine the binary and block its hash",
		"Review persistence mechanisms (services, scheduled tasks, run keys)",
		"Check outbound connections from the host",
	},
	models.CategoryDDoS: {
		"Enable rate limiting at the edge",
		"Block the offending source addresses",
		"Notify the upstream provider",
	},
	models.CategoryBruteForce: {
		"Lock the targeted accounts and force a credential reset",
		"Enable multi-factor authentication",
		"Review authentication logs for successful attempts",
	},
	models.CategoryExfiltration: {
		"Block the outbound destination",
		"Audit what data the process read",
		"Review data loss prevention policies",
	},
	models.CategoryPrivEscalation: {
		"Review the account's group memberships and sudo rules",
		"Audit recent privilege changes",
		"Patch the exploited component",
	},
	models.CategoryReconnaissance: {
		"Review firewall logs for the scanning source",
		"Tighten exposed service banners",
		"Watch the source for follow-up activity",
	},
	models.CategoryLateralMovement: {
		"Review remote execution and admin share access on the target",
		"Rotate credentials used on the source host",
		"Segment the affected network zone",
	},
	models.CategoryCredentialDump: {
		"Force a password reset for accounts on the host",
		"Invalidate active sessions and tickets",
		"Hunt for use of the dumped credentials elsewhere",
	},
	categoryAnomaly: {
		"Review the host's resource usage and open connections",
		"Compare against the process's historical profile",
		"Escalate to an analyst if the deviation persists",
	},
}

// RecommendationsFor returns the response playbook for a threat category.
func RecommendationsFor(category string) []string {
	return recommendations[category]
}
