package wallet

// Role names one of the three keys of a 2-of-3 wallet.
type Role string

// Key roles in script order.
const (
	RoleUser   Role = "user"
	RoleBackup Role = "backup"
	RoleBitGo  Role = "bitgo"
)

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// Policy is the signing policy a recovery runs under. It is derived from the
// shape of the supplied keys and never chosen by the caller.
type Policy string

// Recovery policies.
const (
	// PolicyFullSigned signs with the user and backup keys and produces a
	// broadcastable transaction.
	PolicyFullSigned Policy = "fullSigned"

	// PolicyKrsAssisted signs with the user key only; a key recovery
	// service holds the backup key and co-signs out of band.
	PolicyKrsAssisted Policy = "krsAssisted"

	// PolicyUnsignedSweep signs nothing and emits an offline bundle.
	PolicyUnsignedSweep Policy = "unsignedSweep"
)

// String returns the policy name.
func (p Policy) String() string {
	return string(p)
}

// SignsWithUser reports whether the policy needs the user private key.
func (p Policy) SignsWithUser() bool {
	return p == PolicyFullSigned || p == PolicyKrsAssisted
}

// SignsWithBackup reports whether the policy needs the backup private key.
func (p Policy) SignsWithBackup() bool {
	return p == PolicyFullSigned
}

// Classify derives the recovery policy from whether the user and backup keys
// were supplied in public form.
//
//	user public, backup public   -> unsigned sweep
//	user private, backup public  -> KRS assisted
//	user private, backup private -> full signed
//
// The remaining combination (public user, private backup) cannot sign and
// is rejected by Resolve.
func Classify(userIsPublic, backupIsPublic bool) Policy {
	switch {
	case userIsPublic && backupIsPublic:
		return PolicyUnsignedSweep
	case backupIsPublic:
		return PolicyKrsAssisted
	default:
		return PolicyFullSigned
	}
}
