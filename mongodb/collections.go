package mongodb

const (
	UsersCollection              = "users"
	ClinicsCollection            = "clinics"
	UserClinicLinksCollection    = "user_clinic_links"
	SocietyMembershipsCollection = "society_memberships"
	CredentialsCollection        = "provider_credentials"
)
