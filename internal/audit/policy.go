package audit

// MetadataMissingReasonKey flags events whose action required a justification
// that the caller did not supply. The event is still recorded; the flag is a
// policy-violation signal for later review.
const MetadataMissingReasonKey = "missingReason"

// reasonRequired is the allow-list of high-risk actions that must carry a
// human-supplied reason. Adding a new high-risk action is a one-line change
// here.
var reasonRequired = map[string]struct{}{
	ActionImpersonationStarted: {},
	ActionImpersonationEnded:   {},
	ActionUserRoleGranted:      {},
	ActionUserRoleRevoked:      {},
	ActionUserSuspended:        {},
	ActionUserReinstated:       {},
	ActionUserSoftDeleted:      {},
	ActionUserAnonymized:       {},
	ActionUserMerged:           {},
	ActionFeeScheduleActivated: {},
	ActionPayoutAdjusted:       {},
	ActionRefundPolicyChanged:  {},
	ActionSecretRotated:        {},
	ActionSigningKeyRotated:    {},
	ActionPrivacySARApproved:   {},
	ActionPrivacySARDenied:     {},
}

// ReasonRequired reports whether the action code demands a justification.
func ReasonRequired(action string) bool {
	_, ok := reasonRequired[action]
	return ok
}
