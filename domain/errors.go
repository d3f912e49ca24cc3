package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrClinicNotFound       = errors.New("clinic not found")
	ErrLinkNotFound         = errors.New("user clinic link not found")
	ErrMembershipNotFound   = errors.New("society membership not found")
	ErrCredentialNotFound   = errors.New("no active provider credential")
	ErrConfigurationMissing = errors.New("provider configuration missing")
	ErrInvalidClinicUpsert  = errors.New("clinic upsert requires an external id")
	ErrInvalidLinkUpsert    = errors.New("link upsert requires user and clinic ids")
	ErrEmptyCredentialToken = errors.New("credential token is empty")
	ErrSyncLockLost         = errors.New("clinic sync lock is held by another sync")
)
