package domain

// Role describes the acting principal's level of access to vault contents.
// Roles are closed: extend by adding values, never by repurposing one.
type Role string

const (
	// RoleSubmitter may ingest notes and read scrubbed derivatives.
	RoleSubmitter Role = "submitter"
	// RoleReviewer may additionally edit entity maps and close reviews.
	RoleReviewer Role = "reviewer"
	// RoleCompliance may decrypt and reidentify vault records.
	RoleCompliance Role = "compliance"
	// RoleService identifies automated pipeline components.
	RoleService Role = "service"
)

// Capability is a coarse permission checked at guarded operations.
type Capability string

const (
	CapabilityDecrypt    Capability = "phi:decrypt"
	CapabilityReidentify Capability = "phi:reidentify"
	CapabilityReview     Capability = "phi:review"
	CapabilitySubmit     Capability = "phi:submit"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleSubmitter: {
		CapabilitySubmit: true,
	},
	RoleReviewer: {
		CapabilitySubmit: true,
		CapabilityReview: true,
	},
	RoleCompliance: {
		CapabilitySubmit:     true,
		CapabilityReview:     true,
		CapabilityDecrypt:    true,
		CapabilityReidentify: true,
	},
	RoleService: {
		CapabilitySubmit: true,
	},
}

// Actor is the identity supplied by the transport layer on every call into
// the vault, audit, and lifecycle APIs. It is transport-agnostic; middleware
// populates it from the bearer token and connection metadata.
type Actor struct {
	ID    string
	Email string
	Role  Role
	IP    string
}

// Can reports whether the actor's role grants the given capability.
func (a Actor) Can(cap Capability) bool {
	return roleCapabilities[a.Role][cap]
}

// IsZero reports whether no identity was supplied.
func (a Actor) IsZero() bool {
	return a.ID == "" && a.Email == ""
}
